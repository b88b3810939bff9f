package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Direction is the relay stage an envelope is addressed to.
type Direction string

const (
	// ToContentScript tags requests travelling from the page towards the
	// background.
	ToContentScript Direction = "contentScript"

	// ToWebpage tags responses travelling back to the page.
	ToWebpage Direction = "webpage"
)

// EIP-1193 provider error codes.
const (
	// CodeUserRejected is returned when the user denied the request.
	CodeUserRejected = 4001

	// CodeUnauthorized is returned when the origin has not been granted
	// the requested capability.
	CodeUnauthorized = 4100

	// CodeUnsupportedMethod is returned for methods the wallet does not
	// implement.
	CodeUnsupportedMethod = 4200

	// CodeUnrecognizedChain is returned when switching to a chain the
	// wallet does not know.
	CodeUnrecognizedChain = 4902

	// CodeInvalidParams is the JSON-RPC invalid params code.
	CodeInvalidParams = -32602

	// CodeInternal is the JSON-RPC internal error code.
	CodeInternal = -32603

	// CodeLimitExceeded is returned when a connection sends requests
	// faster than it is allowed to.
	CodeLimitExceeded = -32005
)

var (
	// ErrForeignTag is returned when an envelope is addressed to the other
	// relay stage.
	ErrForeignTag = errors.New("envelope addressed to another stage")

	// ErrMalformed is returned when an envelope cannot be decoded or lacks
	// required fields.
	ErrMalformed = errors.New("malformed envelope")
)

// RPCError is the error object carried in a response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewUserRejectedError returns the error sent when the user denies a
// request.
func NewUserRejectedError() *RPCError {
	return &RPCError{
		Code:    CodeUserRejected,
		Message: "User rejected the request.",
	}
}

// NewUnrecognizedChainError returns the error sent when a chain switch
// targets an unknown chain.
func NewUnrecognizedChainError(chainID string) *RPCError {
	return &RPCError{
		Code: CodeUnrecognizedChain,
		Message: fmt.Sprintf("Unrecognized chain ID %q. Try adding "+
			"the chain first.", chainID),
	}
}

// NewInternalError wraps err in an internal error.
func NewInternalError(err error) *RPCError {
	return &RPCError{
		Code:    CodeInternal,
		Message: err.Error(),
	}
}

// AsRPCError converts err into an RPCError, mapping anything that is not
// already one to an internal error.
func AsRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	return NewInternalError(err)
}

// Envelope is the message carried between the relay stages. Requests set
// Method, Params and From; responses set exactly one of Response or Error.
type Envelope struct {
	For      Direction         `json:"for"`
	ID       uint64            `json:"id"`
	Method   string            `json:"method,omitempty"`
	Params   []json.RawMessage `json:"params,omitempty"`
	From     string            `json:"from,omitempty"`
	Response json.RawMessage   `json:"response,omitempty"`
	Error    *RPCError         `json:"error,omitempty"`
}

// NewRequest builds a request envelope, encoding each param as JSON.
func NewRequest(id uint64, method, origin string,
	params ...interface{}) (*Envelope, error) {

	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		raw, err := json.Marshal(param)
		if err != nil {
			return nil, fmt.Errorf("unable to encode param: %w", err)
		}
		rawParams = append(rawParams, raw)
	}

	return &Envelope{
		For:    ToContentScript,
		ID:     id,
		Method: method,
		Params: rawParams,
		From:   origin,
	}, nil
}

// NewResponse builds a success response for req.
func NewResponse(req *Envelope, result interface{}) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("unable to encode response: %w", err)
	}

	return &Envelope{
		For:      ToWebpage,
		ID:       req.ID,
		Response: raw,
	}, nil
}

// NewErrorResponse builds an error response for req.
func NewErrorResponse(req *Envelope, err error) *Envelope {
	return &Envelope{
		For:   ToWebpage,
		ID:    req.ID,
		Error: AsRPCError(err),
	}
}

// IsResponse reports whether the envelope is a response.
func (e *Envelope) IsResponse() bool {
	return e.For == ToWebpage
}

// Param decodes the i-th parameter into v. A missing parameter is reported
// as invalid params.
func (e *Envelope) Param(i int, v interface{}) error {
	if i >= len(e.Params) {
		return &RPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("missing param %d", i),
		}
	}

	if err := json.Unmarshal(e.Params[i], v); err != nil {
		return &RPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("invalid param %d: %v", i, err),
		}
	}

	return nil
}

// Decode parses a serialized envelope and accepts it only if it is
// addressed to want. Requests must name a method.
func Decode(data []byte, want Direction) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &env, env.Validate(want)
}

// Validate checks that the envelope is addressed to want and is well formed
// for its direction.
func (e *Envelope) Validate(want Direction) error {
	switch {
	case e.For != ToContentScript && e.For != ToWebpage:
		return fmt.Errorf("%w: unknown tag %q", ErrMalformed, e.For)

	case e.For != want:
		return ErrForeignTag

	case e.For == ToContentScript && e.Method == "":
		return fmt.Errorf("%w: request without method", ErrMalformed)
	}

	return nil
}

// Encode serializes the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
