package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// PopupPage is the page of the approval surface.
	PopupPage = "popup.html"

	// actionRoute is the fragment route the surface opens on.
	actionRoute = "#/action?"
)

// ErrInvalidURL is returned when parsing a URL that is not an approval URL.
var ErrInvalidURL = errors.New("not an approval url")

// BuildURL returns the approval surface URL for req:
// popup.html#/action?method=<name>&id=<id>&params=<json>&from=<origin>.
func BuildURL(req *Request) (string, error) {
	params := req.Params
	if params == nil {
		params = []json.RawMessage{}
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("unable to encode params: %w", err)
	}

	var b strings.Builder
	b.WriteString(PopupPage)
	b.WriteString(actionRoute)
	b.WriteString("method=")
	b.WriteString(url.QueryEscape(req.Method))
	b.WriteString("&id=")
	b.WriteString(strconv.FormatUint(req.ID, 10))
	b.WriteString("&params=")
	b.WriteString(url.QueryEscape(string(rawParams)))
	b.WriteString("&from=")
	b.WriteString(url.QueryEscape(req.Origin))

	return b.String(), nil
}

// ParsedURL is the content of an approval URL.
type ParsedURL struct {
	Method string
	ID     uint64
	Params []json.RawMessage
	From   string
}

// ParseURL reverses BuildURL.
func ParseURL(rawURL string) (*ParsedURL, error) {
	idx := strings.Index(rawURL, actionRoute)
	if idx < 0 {
		return nil, ErrInvalidURL
	}

	query, err := url.ParseQuery(rawURL[idx+len(actionRoute):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	id, err := strconv.ParseUint(query.Get("id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad id: %v", ErrInvalidURL, err)
	}

	var params []json.RawMessage
	if p := query.Get("params"); p != "" {
		if err := json.Unmarshal([]byte(p), &params); err != nil {
			return nil, fmt.Errorf("%w: bad params: %v",
				ErrInvalidURL, err)
		}
	}

	return &ParsedURL{
		Method: query.Get("method"),
		ID:     id,
		Params: params,
		From:   query.Get("from"),
	}, nil
}
