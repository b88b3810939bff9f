package satchel

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/satchelwallet/satchel/approval"
	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/chain/evmwallet"
	"github.com/satchelwallet/satchel/challenge"
	"github.com/satchelwallet/satchel/relay"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://dapp.example"

// startPage wires a page provider to the harness host through the bus, the
// isolated stage and a local port.
func startPage(t *testing.T, h *hostHarness, origin string) *relay.Provider {
	t.Helper()

	bus := relay.NewBus()
	require.NoError(t, bus.Start())
	t.Cleanup(func() {
		require.NoError(t, bus.Stop())
	})

	bridge := relay.NewBridge(relay.BridgeConfig{
		Bus:    bus,
		Port:   relay.NewLocalPort(h.host),
		Origin: origin,
	})
	require.NoError(t, bridge.Start())
	t.Cleanup(func() {
		require.NoError(t, bridge.Stop())
	})

	provider := relay.NewProvider(relay.ProviderConfig{
		Bus:    bus,
		Origin: origin,
	})
	require.NoError(t, provider.Start())
	t.Cleanup(func() {
		require.NoError(t, provider.Stop())
	})

	return provider
}

type callResult struct {
	resp json.RawMessage
	err  error
}

// callAsync issues a page call that is expected to wait for the user.
func callAsync(provider *relay.Provider, method string,
	params ...interface{}) chan callResult {

	results := make(chan callResult, 1)
	go func() {
		resp, err := provider.Request(
			context.Background(), method, params...,
		)
		results <- callResult{resp: resp, err: err}
	}()

	return results
}

// nextSurface waits for the approval surface to open and parses its URL.
func (h *hostHarness) nextSurface(t *testing.T) *approval.ParsedURL {
	t.Helper()

	select {
	case url := <-h.opened:
		parsed, err := approval.ParseURL(url)
		require.NoError(t, err)

		return parsed

	case <-time.After(5 * time.Second):
		t.Fatalf("approval surface never opened")
		return nil
	}
}

func (h *hostHarness) requireNoSurface(t *testing.T) {
	t.Helper()

	select {
	case url := <-h.opened:
		t.Fatalf("unexpected approval surface %v", url)
	default:
	}
}

func waitResult(t *testing.T, results chan callResult) callResult {
	t.Helper()

	select {
	case res := <-results:
		return res

	case <-time.After(5 * time.Second):
		t.Fatalf("page call never resolved")
		return callResult{}
	}
}

func requireRPCCode(t *testing.T, err error, code int) {
	t.Helper()

	var rpcErr *relay.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, code, rpcErr.Code)
}

func decodeResult(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()

	require.NoError(t, json.Unmarshal(raw, v))
}

// TestRequestAccountsFlow connects a dapp through the whole relay: the first
// call opens the approval surface, the second resolves directly.
func TestRequestAccountsFlow(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	h.onboard(t)
	page := startPage(t, h, testOrigin)

	var accounts []string
	resp, err := page.Request(context.Background(), MethodAccounts)
	require.NoError(t, err)
	decodeResult(t, resp, &accounts)
	require.Empty(t, accounts)

	results := callAsync(page, MethodRequestAccounts)

	surface := h.nextSurface(t)
	require.Equal(t, MethodRequestAccounts, surface.Method)
	require.Equal(t, testOrigin, surface.From)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))

	res := waitResult(t, results)
	require.NoError(t, res.err)
	decodeResult(t, res.resp, &accounts)
	require.Equal(t, []string{testEVMAddress}, accounts)

	// The origin is now whitelisted.
	resp, err = page.Request(context.Background(), MethodRequestAccounts)
	require.NoError(t, err)
	decodeResult(t, resp, &accounts)
	require.Equal(t, []string{testEVMAddress}, accounts)
	h.requireNoSurface(t)

	var whitelist WhitelistResponse
	h.controlInto(t, MsgGetWhitelist, nil, &whitelist)
	require.Equal(t, []string{testOrigin}, whitelist.Origins)

	// Removal is not supported, the origin stays trusted.
	msg := controlError(t, h.control(t, MsgRemoveFromWhitelist,
		&WhitelistRequest{Origin: testOrigin}))
	require.Contains(t, msg, "not implemented")

	resp, err = page.Request(context.Background(), MethodRequestAccounts)
	require.NoError(t, err)
	decodeResult(t, resp, &accounts)
	require.Equal(t, []string{testEVMAddress}, accounts)
	h.requireNoSurface(t)

	h.controlInto(t, MsgGetWhitelist, nil, &whitelist)
	require.Equal(t, []string{testOrigin}, whitelist.Origins)
}

// TestRelayOriginFromConnection asserts a websocket connection cannot borrow
// the trust of another, whitelisted origin by claiming it in its envelopes.
func TestRelayOriginFromConnection(t *testing.T) {
	t.Parallel()

	const evilOrigin = "https://evil.example"

	h := newHostHarness(t)
	h.onboard(t)

	page := startPage(t, h, testOrigin)
	results := callAsync(page, MethodRequestAccounts)
	surface := h.nextSurface(t)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))
	require.NoError(t, waitResult(t, results).err)

	server := relay.NewWSServer(relay.WSServerConfig{Handler: h.host})
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")

	// Connections without an origin are refused.
	_, err := relay.DialWSPort(context.Background(), url, "")
	require.Error(t, err)

	port, err := relay.DialWSPort(context.Background(), url, evilOrigin)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = port.Close()
	})

	req, err := relay.NewRequest(1, MethodRequestAccounts, testOrigin)
	require.NoError(t, err)

	replies := make(chan *relay.Envelope, 1)
	go func() {
		resp, err := port.Call(context.Background(), req)
		if err == nil {
			replies <- resp
		}
	}()

	// The claimed origin is ignored, the user is asked about the real
	// one.
	surface = h.nextSurface(t)
	require.Equal(t, evilOrigin, surface.From)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Deny,
	))

	select {
	case resp := <-replies:
		require.NotNil(t, resp.Error)
		require.Equal(t, relay.CodeUserRejected, resp.Error.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply from relay server")
	}

	var whitelist WhitelistResponse
	h.controlInto(t, MsgGetWhitelist, nil, &whitelist)
	require.Equal(t, []string{testOrigin}, whitelist.Origins)
}

// TestRequestAccountsDenied asserts a denied connection leaves the origin
// untrusted.
func TestRequestAccountsDenied(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	h.onboard(t)
	page := startPage(t, h, testOrigin)

	results := callAsync(page, MethodRequestAccounts)
	surface := h.nextSurface(t)

	// Resolving through the control channel, the way the surface does.
	h.controlInto(t, MsgResolveApproval, &ResolveApprovalRequest{
		ID:      surface.ID,
		Outcome: "deny",
	}, nil)

	requireRPCCode(t, waitResult(t, results).err, relay.CodeUserRejected)

	var accounts []string
	resp, err := page.Request(context.Background(), MethodAccounts)
	require.NoError(t, err)
	decodeResult(t, resp, &accounts)
	require.Empty(t, accounts)
}

// TestRequestAccountsNoWallet asserts an approved origin is not whitelisted
// when there is no address to hand it.
func TestRequestAccountsNoWallet(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	page := startPage(t, h, testOrigin)

	results := callAsync(page, MethodRequestAccounts)
	surface := h.nextSurface(t)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))
	require.Error(t, waitResult(t, results).err)

	var whitelist WhitelistResponse
	h.controlInto(t, MsgGetWhitelist, nil, &whitelist)
	require.Empty(t, whitelist.Origins)

	// Once onboarded the origin is asked again.
	h.onboard(t)
	results = callAsync(page, MethodRequestAccounts)
	surface = h.nextSurface(t)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))

	res := waitResult(t, results)
	require.NoError(t, res.err)
	var accounts []string
	decodeResult(t, res.resp, &accounts)
	require.Equal(t, []string{testEVMAddress}, accounts)

	h.controlInto(t, MsgGetWhitelist, nil, &whitelist)
	require.Equal(t, []string{testOrigin}, whitelist.Origins)
}

// TestDappErrors asserts the provider error codes of malformed requests.
func TestDappErrors(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	h.onboard(t)
	page := startPage(t, h, testOrigin)
	ctx := context.Background()

	_, err := page.Request(ctx, "eth_sendTransaction")
	requireRPCCode(t, err, relay.CodeUnsupportedMethod)

	_, err = page.Request(ctx, MethodGetAddress, "dogecoin")
	requireRPCCode(t, err, relay.CodeUnrecognizedChain)

	_, err = page.Request(ctx, MethodSwitchChain)
	requireRPCCode(t, err, relay.CodeInvalidParams)

	_, err = page.Request(ctx, MethodPersonalSign, "0x68656c6c6f",
		"0x0000000000000000000000000000000000000001")
	requireRPCCode(t, err, relay.CodeInvalidParams)

	h.requireNoSurface(t)

	// A request without origin never reaches a handler.
	req, err := relay.NewRequest(1, MethodAccounts, "")
	require.NoError(t, err)
	resp := h.host.HandleRequest(ctx, req)
	require.NotNil(t, resp.Error)
	require.Equal(t, relay.CodeUnauthorized, resp.Error.Code)
}

// TestGetAddressProvider asserts the bitcoin provider's getAddress goes
// through the same approval as eth_requestAccounts.
func TestGetAddressProvider(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	h.onboard(t)
	page := startPage(t, h, testOrigin)

	results := callAsync(page, MethodGetAddress, string(chain.Bitcoin))
	surface := h.nextSurface(t)
	require.Equal(t, MethodGetAddress, surface.Method)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))

	res := waitResult(t, results)
	require.NoError(t, res.err)

	var addr string
	decodeResult(t, res.resp, &addr)
	require.Equal(t, testBitcoinAddress, addr)
}

// TestSwitchChain asserts chain switching and the chain id reported after
// it.
func TestSwitchChain(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	page := startPage(t, h, testOrigin)
	ctx := context.Background()

	var chainID string
	resp, err := page.Request(ctx, MethodChainID)
	require.NoError(t, err)
	decodeResult(t, resp, &chainID)
	require.Equal(t, "0x1", chainID)

	_, err = page.Request(ctx, MethodSwitchChain, map[string]string{
		"chainId": "0x999",
	})
	requireRPCCode(t, err, relay.CodeUnrecognizedChain)

	// Switching to the current chain needs no approval.
	resp, err = page.Request(ctx, MethodSwitchChain, map[string]string{
		"chainId": "0x1",
	})
	require.NoError(t, err)
	require.JSONEq(t, "null", string(resp))
	h.requireNoSurface(t)

	results := callAsync(page, MethodSwitchChain, map[string]string{
		"chainId": "0xaa36a7",
	})
	surface := h.nextSurface(t)
	require.Equal(t, MethodSwitchChain, surface.Method)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))
	require.NoError(t, waitResult(t, results).err)

	resp, err = page.Request(ctx, MethodChainID)
	require.NoError(t, err)
	decodeResult(t, resp, &chainID)
	require.Equal(t, "0xaa36a7", chainID)
	require.Equal(t, chain.Sepolia, h.host.EVMNetwork())
}

// TestPermissions asserts a granted eth_accounts permission connects the
// origin.
func TestPermissions(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	h.onboard(t)
	page := startPage(t, h, testOrigin)
	ctx := context.Background()

	resp, err := page.Request(ctx, MethodGetPermissions)
	require.NoError(t, err)
	require.JSONEq(t, "[]", string(resp))

	results := callAsync(page, MethodRequestPermissions,
		map[string]interface{}{"eth_accounts": struct{}{}})
	surface := h.nextSurface(t)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))

	res := waitResult(t, results)
	require.NoError(t, res.err)

	var granted []struct {
		Invoker          string `json:"invoker"`
		ParentCapability string `json:"parentCapability"`
	}
	decodeResult(t, res.resp, &granted)
	require.Len(t, granted, 1)
	require.Equal(t, testOrigin, granted[0].Invoker)
	require.Equal(t, MethodAccounts, granted[0].ParentCapability)

	var accounts []string
	resp, err = page.Request(ctx, MethodAccounts)
	require.NoError(t, err)
	decodeResult(t, resp, &accounts)
	require.Equal(t, []string{testEVMAddress}, accounts)
}

// TestPersonalSign asserts a signature needs both the approval and the
// vault password, and recovers to the account address.
func TestPersonalSign(t *testing.T) {
	t.Parallel()

	h := newHostHarness(t)
	h.onboard(t)
	page := startPage(t, h, testOrigin)

	message := []byte("hello satchel")
	results := callAsync(page, MethodPersonalSign,
		"0x"+hex.EncodeToString(message), testEVMAddress)

	surface := h.nextSurface(t)
	require.Equal(t, MethodPersonalSign, surface.Method)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))

	res := waitResult(t, results)
	require.NoError(t, res.err)

	var sigHex string
	decodeResult(t, res.resp, &sigHex)
	sig, err := hex.DecodeString(sigHex[2:])
	require.NoError(t, err)

	signer, err := evmwallet.RecoverAddress(message, sig)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testEVMAddress), signer)

	// Cancelling the password prompt rejects the call.
	h.answer = func(h *WalletHost, c challenge.Challenge) {
		_ = h.Challenges().Cancel(c.ID)
	}

	results = callAsync(page, MethodPersonalSign, "plain text",
		testEVMAddress)
	surface = h.nextSurface(t)
	require.NoError(t, h.host.Approvals().Resolve(
		surface.ID, approval.Allow,
	))
	requireRPCCode(t, waitResult(t, results).err, relay.CodeUserRejected)
}
