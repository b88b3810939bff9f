package satchel

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/satchelwallet/satchel/approval"
	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/challenge"
	"github.com/satchelwallet/satchel/gate"
	"github.com/satchelwallet/satchel/relay"
)

// Dapp methods served over the relay.
const (
	MethodRequestAccounts           = "eth_requestAccounts"
	MethodAccounts                  = "eth_accounts"
	MethodChainID                   = "eth_chainId"
	MethodSwitchChain               = "wallet_switchEthereumChain"
	MethodRequestPermissions        = "wallet_requestPermissions"
	MethodGetPermissions            = "wallet_getPermissions"
	MethodPersonalSign              = "personal_sign"
	MethodGetAddress                = "getAddress"
	capabilityAccounts              = MethodAccounts
	dappAccount              uint32 = 0
)

// A compile-time check to ensure WalletHost answers relay requests.
var _ relay.RequestHandler = (*WalletHost)(nil)

// dappHandler answers one dapp method.
type dappHandler func(ctx context.Context, req *relay.Envelope) (
	interface{}, error)

// HandleRequest answers a dapp request arriving over the relay. Every
// request gets exactly one response, errors included.
func (h *WalletHost) HandleRequest(ctx context.Context,
	req *relay.Envelope) *relay.Envelope {

	handler, err := h.dappHandler(req)
	if err != nil {
		return relay.NewErrorResponse(req, err)
	}

	result, err := handler(ctx, req)
	if err != nil {
		dappLog.Debugf("%v from %v failed: %v", req.Method, req.From,
			err)

		return relay.NewErrorResponse(req, dappError(err))
	}

	resp, err := relay.NewResponse(req, result)
	if err != nil {
		return relay.NewErrorResponse(req, err)
	}

	return resp
}

func (h *WalletHost) dappHandler(req *relay.Envelope) (dappHandler, error) {
	if req.From == "" {
		return nil, &relay.RPCError{
			Code:    relay.CodeUnauthorized,
			Message: "Request has no origin.",
		}
	}

	switch req.Method {
	case MethodRequestAccounts:
		return h.requestAccounts, nil

	case MethodAccounts:
		return h.accounts, nil

	case MethodChainID:
		return h.chainID, nil

	case MethodSwitchChain:
		return h.switchChain, nil

	case MethodRequestPermissions:
		return h.requestPermissions, nil

	case MethodGetPermissions:
		return h.getPermissions, nil

	case MethodPersonalSign:
		return h.personalSign, nil

	case MethodGetAddress:
		return h.dappGetAddress, nil

	default:
		return nil, &relay.RPCError{
			Code: relay.CodeUnsupportedMethod,
			Message: fmt.Sprintf("The method %q is not supported.",
				req.Method),
		}
	}
}

// dappError maps host failures onto provider errors. A cancelled password
// challenge is a user rejection like a denied approval.
func dappError(err error) error {
	var rpcErr *relay.RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr

	case errors.Is(err, challenge.ErrChallengeCancelled):
		return relay.NewUserRejectedError()

	case errors.Is(err, chain.ErrUnknownNetwork):
		return &relay.RPCError{
			Code:    relay.CodeUnrecognizedChain,
			Message: err.Error(),
		}

	default:
		return relay.NewInternalError(err)
	}
}

func invalidParams(format string, args ...interface{}) *relay.RPCError {
	return &relay.RPCError{
		Code:    relay.CodeInvalidParams,
		Message: fmt.Sprintf(format, args...),
	}
}

// approve opens the approval surface and turns anything but Allow into a
// user rejection.
func (h *WalletHost) approve(ctx context.Context,
	req *relay.Envelope) error {

	outcome, err := h.approvals.Submit(ctx, req.Method, req.From, req.Params)
	if err != nil {
		return err
	}

	if outcome != approval.Allow {
		dappLog.Infof("%v from %v not approved: %v", req.Method,
			req.From, outcome)

		return relay.NewUserRejectedError()
	}

	return nil
}

// isTrusted reports whether origin may read addresses without prompting.
func (h *WalletHost) isTrusted(origin string) (bool, error) {
	whitelisted, err := h.whitelist.Contains(origin)
	if err != nil || whitelisted {
		return whitelisted, err
	}

	return h.permissions.Has(origin, capabilityAccounts)
}

// connect resolves an address request from origin. Untrusted origins go
// through the approval surface and are whitelisted on Allow.
func (h *WalletHost) connect(ctx context.Context, req *relay.Envelope,
	network chain.NetworkKind) (string, error) {

	trusted, err := h.isTrusted(req.From)
	if err != nil {
		return "", err
	}

	if trusted {
		return h.Address(ctx, network, dappAccount)
	}

	if err := h.approve(ctx, req); err != nil {
		return "", err
	}

	// Only an origin that got an address back is remembered.
	address, err := h.Address(ctx, network, dappAccount)
	if err != nil {
		return "", err
	}

	if err := h.whitelist.Add(req.From); err != nil {
		return "", err
	}

	return address, nil
}

func (h *WalletHost) requestAccounts(ctx context.Context,
	req *relay.Envelope) (interface{}, error) {

	address, err := h.connect(ctx, req, h.EVMNetwork())
	if err != nil {
		return nil, err
	}

	return []string{address}, nil
}

func (h *WalletHost) accounts(ctx context.Context,
	req *relay.Envelope) (interface{}, error) {

	trusted, err := h.isTrusted(req.From)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return []string{}, nil
	}

	address, err := h.Address(ctx, h.EVMNetwork(), dappAccount)
	if err != nil {
		return nil, err
	}

	return []string{address}, nil
}

// formatChainID returns the 0x-prefixed hex form of a chain id.
func formatChainID(chainID uint64) string {
	return "0x" + strconv.FormatUint(chainID, 16)
}

// parseChainID parses a 0x-prefixed hex chain id.
func parseChainID(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, fmt.Errorf("chain id %q is not 0x-prefixed", s)
	}

	return strconv.ParseUint(s[2:], 16, 64)
}

func (h *WalletHost) chainID(context.Context,
	*relay.Envelope) (interface{}, error) {

	chainID, err := h.EVMNetwork().EVMChainID()
	if err != nil {
		return nil, err
	}

	return formatChainID(chainID), nil
}

// switchChainParams is the first param of wallet_switchEthereumChain.
type switchChainParams struct {
	ChainID string `json:"chainId"`
}

// switchChain moves the host to another known EVM network. Unknown chains
// are rejected before the approval surface opens.
func (h *WalletHost) switchChain(ctx context.Context,
	req *relay.Envelope) (interface{}, error) {

	var params switchChainParams
	if err := req.Param(0, &params); err != nil {
		return nil, err
	}

	chainID, err := parseChainID(params.ChainID)
	if err != nil {
		return nil, invalidParams("%v", err)
	}

	network, ok := chain.EVMNetworkByChainID(chainID)
	if !ok {
		return nil, relay.NewUnrecognizedChainError(params.ChainID)
	}

	if network == h.EVMNetwork() {
		return nil, nil
	}

	if err := h.approve(ctx, req); err != nil {
		return nil, err
	}

	h.setEVMNetwork(network)
	dappLog.Infof("Switched EVM network to %v for %v", network, req.From)

	return nil, nil
}

func (h *WalletHost) requestPermissions(ctx context.Context,
	req *relay.Envelope) (interface{}, error) {

	var permReq gate.PermissionRequest
	if err := req.Param(0, &permReq); err != nil {
		return nil, err
	}
	if len(permReq) == 0 {
		return nil, invalidParams("no permission requested")
	}

	if err := h.approve(ctx, req); err != nil {
		return nil, err
	}

	granted, err := h.permissions.Grant(req.From, permReq)
	if err != nil {
		return nil, err
	}

	// Granting the accounts capability is the same as connecting.
	if _, ok := permReq[capabilityAccounts]; ok {
		if err := h.whitelist.Add(req.From); err != nil {
			return nil, err
		}
	}

	return granted, nil
}

func (h *WalletHost) getPermissions(_ context.Context,
	req *relay.Envelope) (interface{}, error) {

	record, err := h.permissions.Get(req.From)
	if err != nil {
		return nil, err
	}

	return record.UnwrapOr([]gate.Permission{}), nil
}

// decodeSignData returns the bytes of a personal_sign payload, which is
// either 0x-prefixed hex or plain text.
func decodeSignData(data string) []byte {
	if strings.HasPrefix(data, "0x") {
		if raw, err := hex.DecodeString(data[2:]); err == nil {
			return raw
		}
	}

	return []byte(data)
}

// personalSign always asks the user, whitelisted or not.
func (h *WalletHost) personalSign(ctx context.Context,
	req *relay.Envelope) (interface{}, error) {

	var data, address string
	if err := req.Param(0, &data); err != nil {
		return nil, err
	}
	if err := req.Param(1, &address); err != nil {
		return nil, err
	}

	network := h.EVMNetwork()
	own, err := h.Address(ctx, network, dappAccount)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(own, address) {
		return nil, invalidParams("unknown address %v", address)
	}

	if err := h.approve(ctx, req); err != nil {
		return nil, err
	}

	sig, err := h.signMessage(
		ctx, network, dappAccount, decodeSignData(data),
	)
	if err != nil {
		return nil, err
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// dappGetAddress serves the bitcoin and ark providers. The only param names
// the network.
func (h *WalletHost) dappGetAddress(ctx context.Context,
	req *relay.Envelope) (interface{}, error) {

	var networkName string
	if err := req.Param(0, &networkName); err != nil {
		return nil, err
	}

	network, err := chain.ParseNetworkKind(networkName)
	if err != nil {
		return nil, &relay.RPCError{
			Code:    relay.CodeUnrecognizedChain,
			Message: err.Error(),
		}
	}

	return h.connect(ctx, req, network)
}
