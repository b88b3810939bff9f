package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/satchelwallet/satchel/chain"
	"gopkg.in/retry.v1"
)

var (
	// ErrNotFound is returned when the API answers 404.
	ErrNotFound = errors.New("esplora resource not found")

	// errRetryable marks failures worth another attempt.
	errRetryable = errors.New("retryable esplora failure")
)

// ClientConfig holds the configuration for the Esplora client.
type ClientConfig struct {
	// URL is the base URL of the Esplora API (e.g.
	// https://blockstream.info/api).
	URL string

	// RequestTimeout is the timeout for individual HTTP requests.
	RequestTimeout time.Duration

	// MaxRetries is the maximum number of retries for failed requests.
	MaxRetries int

	// RetryStep is added to the sleep before every further retry.
	RetryStep time.Duration
}

// TxStatus represents transaction confirmation status.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// TxInfo represents transaction information from the API.
type TxInfo struct {
	TxID   string   `json:"txid"`
	Fee    int64    `json:"fee"`
	Status TxStatus `json:"status"`
}

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Status TxStatus `json:"status"`
	Value  int64    `json:"value"`
}

// Stats are the funding totals of an address on chain or in the mempool.
type Stats struct {
	FundedTxoCount int   `json:"funded_txo_count"`
	FundedTxoSum   int64 `json:"funded_txo_sum"`
	SpentTxoCount  int   `json:"spent_txo_count"`
	SpentTxoSum    int64 `json:"spent_txo_sum"`
	TxCount        int   `json:"tx_count"`
}

// Balance returns funded minus spent.
func (s Stats) Balance() int64 {
	return s.FundedTxoSum - s.SpentTxoSum
}

// AddressInfo is the summary of one address.
type AddressInfo struct {
	Address      string `json:"address"`
	ChainStats   Stats  `json:"chain_stats"`
	MempoolStats Stats  `json:"mempool_stats"`
}

// Used reports whether the address ever appeared in a transaction.
func (a *AddressInfo) Used() bool {
	return a.ChainStats.TxCount > 0 || a.MempoolStats.TxCount > 0
}

// Client is an HTTP client for the Esplora REST API.
type Client struct {
	cfg *ClientConfig

	httpClient *http.Client
}

// NewClient creates a new Esplora client with the given configuration.
func NewClient(cfg *ClientConfig) *Client {
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// doRequest performs an HTTP request, retrying transport failures and 5xx
// answers with a linear backoff.
func (c *Client) doRequest(ctx context.Context, method, path string,
	body []byte) ([]byte, error) {

	url := c.cfg.URL + path
	strategy := chain.RetryStrategy(
		c.cfg.MaxRetries+1, c.cfg.RetryStep, 0,
	)

	var (
		lastErr error
		tries   int
	)
	for attempt := retry.Start(strategy, nil); attempt.Next(); {
		tries++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		respBody, err := c.doOnce(ctx, method, url, body)
		if err == nil {
			return respBody, nil
		}
		if !errors.Is(err, errRetryable) {
			return nil, err
		}

		lastErr = err
		log.Debugf("Esplora %v %v failed (attempt %d): %v", method,
			path, tries, err)
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w",
		tries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, url string,
	body []byte) ([]byte, error) {

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v",
			errRetryable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: API returned status %d: %s",
			errRetryable, resp.StatusCode, string(respBody))

	default:
		return nil, fmt.Errorf("API returned status %d: %s",
			resp.StatusCode, string(respBody))
	}
}

// getJSON performs a GET request and decodes the JSON answer into v.
func (c *Client) getJSON(ctx context.Context, path string,
	v interface{}) error {

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// GetTipHeight returns the current blockchain tip height.
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}

	return height, nil
}

// GetTipHash returns the current blockchain tip hash.
func (c *Client) GetTipHash(ctx context.Context) (*chainhash.Hash, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/blocks/tip/hash", nil)
	if err != nil {
		return nil, err
	}

	return chainhash.NewHashFromStr(strings.TrimSpace(string(body)))
}

// GetAddress fetches the funding summary of an address.
func (c *Client) GetAddress(ctx context.Context,
	address string) (*AddressInfo, error) {

	var info AddressInfo
	if err := c.getJSON(ctx, "/address/"+address, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// GetAddressTxs fetches transactions for an address.
func (c *Client) GetAddressTxs(ctx context.Context,
	address string) ([]*TxInfo, error) {

	var txs []*TxInfo
	if err := c.getJSON(ctx, "/address/"+address+"/txs", &txs); err != nil {
		return nil, err
	}

	return txs, nil
}

// GetAddressUTXOs fetches unspent outputs for an address.
func (c *Client) GetAddressUTXOs(ctx context.Context,
	address string) ([]*UTXO, error) {

	var utxos []*UTXO
	err := c.getJSON(ctx, "/address/"+address+"/utxo", &utxos)
	if err != nil {
		return nil, err
	}

	return utxos, nil
}

// BroadcastTransaction broadcasts a raw transaction to the network.
// Returns the txid on success.
func (c *Client) BroadcastTransaction(ctx context.Context,
	txHex string) (string, error) {

	body, err := c.doRequest(ctx, http.MethodPost, "/tx", []byte(txHex))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

// BroadcastTx broadcasts a wire.MsgTx to the network.
func (c *Client) BroadcastTx(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize tx: %w", err)
	}

	txHex := hex.EncodeToString(buf.Bytes())
	txid, err := c.BroadcastTransaction(ctx, txHex)
	if err != nil {
		return nil, err
	}

	return chainhash.NewHashFromStr(txid)
}
