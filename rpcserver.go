package satchel

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/satchelwallet/satchel/approval"
	"github.com/satchelwallet/satchel/build"
	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/chain/btcwallet"
	"github.com/satchelwallet/satchel/challenge"
	"github.com/satchelwallet/satchel/dispatch"
	"github.com/satchelwallet/satchel/kvstore"
	"github.com/satchelwallet/satchel/vault"
)

// Control message types.
const (
	MsgLog                 = "log"
	MsgGetOnboardingState  = "getOnboardingState"
	MsgCreateMnemonic      = "createMnemonic"
	MsgSaveMnemonic        = "saveMnemonic"
	MsgEncryptMnemonic     = "encryptMnemonic"
	MsgChangePassword      = "changePassword"
	MsgAcceptTerms         = "acceptTerms"
	MsgSetCameraPermission = "setCameraPermission"
	MsgAddAccount          = "addAccount"
	MsgSetOffchainAddress  = "setOffchainAddress"
	MsgGetAddress          = "getAddress"
	MsgGetBalance          = "getBalance"
	MsgGetUtxos            = "getUtxos"
	MsgSignMessage         = "signMessage"
	MsgGetChallenge        = "getChallenge"
	MsgSubmitChallenge     = "submitChallenge"
	MsgCancelChallenge     = "cancelChallenge"
	MsgListApprovals       = "listApprovals"
	MsgGetApproval         = "getApproval"
	MsgSetWindow           = "setWindow"
	MsgResolveApproval     = "resolveApproval"
	MsgGetWhitelist        = "getWhitelist"
	MsgRemoveFromWhitelist = "removeFromWhitelist"
	MsgDebugLevel          = "debugLevel"
)

// LogRequest is a log line sent by the UI.
type LogRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// OnboardingState reports how far onboarding got.
type OnboardingState struct {
	HasSecret        bool `json:"hasSecret"`
	Encrypted        bool `json:"encrypted"`
	AcceptedTerms    bool `json:"acceptedTerms"`
	CameraPermission bool `json:"cameraPermission"`
}

// CreateMnemonicRequest asks for a fresh recovery phrase.
type CreateMnemonicRequest struct {
	EntropyBits int `json:"entropyBits"`
}

// MnemonicResponse carries a recovery phrase to show once.
type MnemonicResponse struct {
	Mnemonic string `json:"mnemonic"`
}

// SaveMnemonicRequest imports a recovery phrase.
type SaveMnemonicRequest struct {
	Mnemonic string `json:"mnemonic"`
}

// PasswordRequest carries a password.
type PasswordRequest struct {
	Password string `json:"password"`
}

// ChangePasswordRequest re-encrypts the vault.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// FlagRequest sets a boolean flag.
type FlagRequest struct {
	Allowed bool `json:"allowed"`
}

// AccountRequest targets an account on a network.
type AccountRequest struct {
	Network string `json:"network"`
	Account uint32 `json:"account"`
}

// OffchainAddressRequest stores the off-chain address of an account.
type OffchainAddressRequest struct {
	Account uint32 `json:"account"`
	Address string `json:"address"`
}

// AddressResponse carries an address.
type AddressResponse struct {
	Address string `json:"address"`
}

// BalanceResponse carries a balance in the network's base unit.
type BalanceResponse struct {
	Network     string `json:"network"`
	Confirmed   string `json:"confirmed"`
	Unconfirmed string `json:"unconfirmed"`
}

// UtxosResponse lists unspent outputs.
type UtxosResponse struct {
	Utxos []btcwallet.AddressUTXO `json:"utxos"`
}

// SignMessageRequest signs a message with an account key.
type SignMessageRequest struct {
	Network string `json:"network"`
	Account uint32 `json:"account"`
	Message string `json:"message"`

	// Encoding selects the text form of bitcoin signatures, base64 by
	// default or zbase32.
	Encoding string `json:"encoding,omitempty"`
}

// SignatureResponse carries a signature.
type SignatureResponse struct {
	Signature string `json:"signature"`
}

// ChallengeInfo describes the open password challenge.
type ChallengeInfo struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChallengeResponse carries the open challenge, if any.
type ChallengeResponse struct {
	Challenge *ChallengeInfo `json:"challenge,omitempty"`
}

// SubmitChallengeRequest answers a challenge.
type SubmitChallengeRequest struct {
	ID       uint64 `json:"id"`
	Password string `json:"password"`
}

// IDRequest targets an item by id.
type IDRequest struct {
	ID uint64 `json:"id"`
}

// ApprovalsResponse lists the pending approvals.
type ApprovalsResponse struct {
	Approvals []approval.Request `json:"approvals"`
}

// ResolveApprovalRequest answers an approval.
type ResolveApprovalRequest struct {
	ID      uint64 `json:"id"`
	Outcome string `json:"outcome"`
}

// WhitelistRequest targets an origin.
type WhitelistRequest struct {
	Origin string `json:"origin"`
}

// WhitelistResponse lists the whitelisted origins.
type WhitelistResponse struct {
	Origins []string `json:"origins"`
}

// DebugLevelRequest changes the log levels. An empty LevelSpec only reports
// them.
type DebugLevelRequest struct {
	LevelSpec string `json:"levelSpec"`
}

// DebugLevelResponse reports the level of every subsystem.
type DebugLevelResponse struct {
	Levels map[string]string `json:"levels"`
}

// OKResponse acknowledges a message without data.
type OKResponse struct {
	OK bool `json:"ok"`
}

var okResponse = &OKResponse{OK: true}

// controlHandler is a handler that returns its reply instead of sending it.
type controlHandler func(ctx context.Context, msg *dispatch.Message) (
	interface{}, error)

// registration binds a control message type to its handler.
type registration struct {
	msgType string
	mode    dispatch.Mode
	handler controlHandler
}

// registerControlHandlers fills the dispatch table.
func (h *WalletHost) registerControlHandlers() error {
	registrations := []registration{
		{MsgGetOnboardingState, dispatch.Async, h.getOnboardingState},
		{MsgCreateMnemonic, dispatch.Async, h.createMnemonic},
		{MsgSaveMnemonic, dispatch.Async, h.saveMnemonic},
		{MsgEncryptMnemonic, dispatch.Async, h.encryptMnemonic},
		{MsgChangePassword, dispatch.Async, h.changePassword},
		{MsgAcceptTerms, dispatch.Async, h.acceptTerms},
		{MsgSetCameraPermission, dispatch.Async,
			h.setCameraPermission},
		{MsgAddAccount, dispatch.Async, h.addAccount},
		{MsgSetOffchainAddress, dispatch.Async, h.setOffchainAddress},
		{MsgGetAddress, dispatch.Async, h.getAddress},
		{MsgGetBalance, dispatch.Async, h.getBalance},
		{MsgGetUtxos, dispatch.Async, h.getUtxos},
		{MsgSignMessage, dispatch.Async, h.signMessageHandler},
		{MsgGetChallenge, dispatch.Sync, h.getChallenge},
		{MsgSubmitChallenge, dispatch.Async, h.submitChallenge},
		{MsgCancelChallenge, dispatch.Sync, h.cancelChallenge},
		{MsgListApprovals, dispatch.Sync, h.listApprovals},
		{MsgGetApproval, dispatch.Sync, h.getApproval},
		{MsgResolveApproval, dispatch.Sync, h.resolveApproval},
		{MsgSetWindow, dispatch.Sync, h.setWindow},
		{MsgGetWhitelist, dispatch.Async, h.getWhitelist},
		{MsgRemoveFromWhitelist, dispatch.Async,
			h.removeFromWhitelist},
		{MsgDebugLevel, dispatch.Sync, h.debugLevel},
	}

	for _, r := range registrations {
		err := h.dispatcher.Register(r.msgType, r.mode, wrap(r.handler))
		if err != nil {
			return err
		}
	}

	// The log message has nothing to reply, so the channel closes right
	// away.
	return h.dispatcher.Register(MsgLog, dispatch.Sync, h.logMessage)
}

// wrap turns a controlHandler into a dispatch.Handler. Vault failures are
// only ever shown as vault.UserFacingError.
func wrap(handler controlHandler) dispatch.Handler {
	return func(ctx context.Context, msg *dispatch.Message,
		reply *dispatch.ReplySlot) {

		resp, err := handler(ctx, msg)

		var sendErr error
		switch {
		case err != nil && vault.IsVaultError(err):
			rpcsLog.Debugf("%v failed: %v", msg.Type, err)
			sendErr = reply.SendErrorMessage(vault.UserFacingError)

		case err != nil:
			rpcsLog.Debugf("%v failed: %v", msg.Type, err)
			sendErr = reply.Error(err)

		default:
			sendErr = reply.Send(resp)
		}

		if sendErr != nil {
			rpcsLog.Debugf("Unable to reply to %v: %v", msg.Type,
				sendErr)
		}
	}
}

func (h *WalletHost) logMessage(_ context.Context, msg *dispatch.Message,
	_ *dispatch.ReplySlot) {

	var req LogRequest
	if err := msg.Decode(&req); err != nil {
		rpcsLog.Debugf("Dropping malformed log message: %v", err)
		return
	}

	switch req.Level {
	case "error":
		rpcsLog.Errorf("UI: %s", req.Message)

	case "warn":
		rpcsLog.Warnf("UI: %s", req.Message)

	case "debug":
		rpcsLog.Debugf("UI: %s", req.Message)

	default:
		rpcsLog.Infof("UI: %s", req.Message)
	}
}

func (h *WalletHost) getOnboardingState(context.Context,
	*dispatch.Message) (interface{}, error) {

	var (
		state OnboardingState
		err   error
	)
	if state.HasSecret, err = h.vault.HasSecret(); err != nil {
		return nil, err
	}
	if state.Encrypted, err = h.vault.IsEncrypted(); err != nil {
		return nil, err
	}
	state.AcceptedTerms, err = kvstore.GetFlag(
		h.store, kvstore.KeyAcceptedTerms,
	)
	if err != nil {
		return nil, err
	}
	state.CameraPermission, err = kvstore.GetFlag(
		h.store, kvstore.KeyCameraPermission,
	)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (h *WalletHost) createMnemonic(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req CreateMnemonicRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.EntropyBits == 0 {
		req.EntropyBits = vault.DefaultEntropyBits
	}

	mnemonic, err := h.vault.CreateMnemonic(req.EntropyBits)
	if err != nil {
		return nil, err
	}

	if err := h.storeAccountXpubs(mnemonic, 0); err != nil {
		return nil, err
	}

	return &MnemonicResponse{Mnemonic: mnemonic}, nil
}

func (h *WalletHost) saveMnemonic(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req SaveMnemonicRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	if err := h.vault.SaveMnemonic(req.Mnemonic); err != nil {
		return nil, err
	}

	if err := h.storeAccountXpubs(req.Mnemonic, 0); err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) encryptMnemonic(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req PasswordRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	if err := h.vault.Encrypt([]byte(req.Password)); err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) changePassword(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req ChangePasswordRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	err := h.vault.ChangePassword(
		[]byte(req.OldPassword), []byte(req.NewPassword),
	)
	if err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) acceptTerms(context.Context,
	*dispatch.Message) (interface{}, error) {

	if err := kvstore.SetFlag(h.store, kvstore.KeyAcceptedTerms,
		true); err != nil {

		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) setCameraPermission(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req FlagRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	err := kvstore.SetFlag(h.store, kvstore.KeyCameraPermission,
		req.Allowed)
	if err != nil {
		return nil, err
	}

	return okResponse, nil
}

// addAccount derives and stores the xpubs of a new account. It needs the
// recovery phrase, so the user is asked for the vault password.
func (h *WalletHost) addAccount(ctx context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req AccountRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	mnemonic, err := h.challenges.AskMnemonic(ctx)
	if err != nil {
		return nil, err
	}

	if err := h.storeAccountXpubs(mnemonic, req.Account); err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) setOffchainAddress(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req OffchainAddressRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.Address == "" {
		return nil, errors.New("empty off-chain address")
	}

	err := h.store.Put(
		kvstore.OffchainAddressKey(req.Account), []byte(req.Address),
	)
	if err != nil {
		return nil, err
	}

	return okResponse, nil
}

// decodeAccountRequest decodes msg and validates the network it names.
func decodeAccountRequest(msg *dispatch.Message) (*AccountRequest,
	chain.NetworkKind, error) {

	var req AccountRequest
	if err := msg.Decode(&req); err != nil {
		return nil, "", err
	}

	network, err := chain.ParseNetworkKind(req.Network)
	if err != nil {
		return nil, "", err
	}

	return &req, network, nil
}

func (h *WalletHost) getAddress(ctx context.Context,
	msg *dispatch.Message) (interface{}, error) {

	req, network, err := decodeAccountRequest(msg)
	if err != nil {
		return nil, err
	}

	address, err := h.Address(ctx, network, req.Account)
	if err != nil {
		return nil, err
	}

	return &AddressResponse{Address: address}, nil
}

func (h *WalletHost) getBalance(ctx context.Context,
	msg *dispatch.Message) (interface{}, error) {

	req, network, err := decodeAccountRequest(msg)
	if err != nil {
		return nil, err
	}

	switch network.Family() {
	case chain.FamilyBitcoin:
		if h.cfg.ChainSource == nil {
			return nil, ErrNoBackend
		}

		w, err := h.cachedBitcoinWallet(req.Account, network)
		if err != nil {
			return nil, err
		}

		balance, err := w.Balance(ctx, h.cfg.ChainSource)
		if err != nil {
			return nil, err
		}

		return &BalanceResponse{
			Network:     string(network),
			Confirmed:   fmt.Sprint(balance.Confirmed),
			Unconfirmed: fmt.Sprint(balance.Unconfirmed),
		}, nil

	case chain.FamilyEVM:
		if h.cfg.EVMBalances == nil {
			return nil, ErrNoBackend
		}

		w, err := h.evmWatchOnly(req.Account)
		if err != nil {
			return nil, err
		}

		balance, err := w.Balance(ctx, h.cfg.EVMBalances)
		if err != nil {
			return nil, err
		}

		return &BalanceResponse{
			Network:     string(network),
			Confirmed:   balance.String(),
			Unconfirmed: "0",
		}, nil

	default:
		return nil, fmt.Errorf("%w: no balance for %v", ErrNoBackend,
			network)
	}
}

func (h *WalletHost) getUtxos(ctx context.Context,
	msg *dispatch.Message) (interface{}, error) {

	req, network, err := decodeAccountRequest(msg)
	if err != nil {
		return nil, err
	}
	if network.Family() != chain.FamilyBitcoin {
		return nil, fmt.Errorf("%w: %v has no utxos",
			chain.ErrUnknownNetwork, network)
	}
	if h.cfg.ChainSource == nil {
		return nil, ErrNoBackend
	}

	w, err := h.cachedBitcoinWallet(req.Account, network)
	if err != nil {
		return nil, err
	}

	utxos, err := w.UTXOs(ctx, h.cfg.ChainSource)
	if err != nil {
		return nil, err
	}
	if utxos == nil {
		utxos = []btcwallet.AddressUTXO{}
	}

	return &UtxosResponse{Utxos: utxos}, nil
}

func (h *WalletHost) signMessageHandler(ctx context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req SignMessageRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	network, err := chain.ParseNetworkKind(req.Network)
	if err != nil {
		return nil, err
	}

	sig, err := h.signMessage(ctx, network, req.Account,
		[]byte(req.Message))
	if err != nil {
		return nil, err
	}

	// Bitcoin signatures are already base64 text.
	if network.Family() == chain.FamilyBitcoin {
		text, err := btcwallet.Reencode(sig, req.Encoding)
		if err != nil {
			return nil, err
		}

		return &SignatureResponse{Signature: text}, nil
	}

	return &SignatureResponse{
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

func (h *WalletHost) getChallenge(context.Context,
	*dispatch.Message) (interface{}, error) {

	var resp ChallengeResponse
	h.challenges.Pending().WhenSome(func(c challenge.Challenge) {
		resp.Challenge = &ChallengeInfo{
			ID:        c.ID,
			Kind:      c.Kind.String(),
			CreatedAt: c.CreatedAt,
		}
	})

	return &resp, nil
}

// submitChallenge runs asynchronously since a mnemonic challenge decrypts
// the vault on submit.
func (h *WalletHost) submitChallenge(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req SubmitChallengeRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	if err := h.challenges.Submit(req.ID, req.Password); err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) cancelChallenge(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req IDRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	if err := h.challenges.Cancel(req.ID); err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) listApprovals(context.Context,
	*dispatch.Message) (interface{}, error) {

	return &ApprovalsResponse{Approvals: h.approvals.List()}, nil
}

func (h *WalletHost) getApproval(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req IDRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	approvalReq, err := h.approvals.Get(req.ID)
	if err != nil {
		return nil, err
	}

	return &approvalReq, nil
}

func (h *WalletHost) setWindow(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var window approval.Window
	if err := msg.Decode(&window); err != nil {
		return nil, err
	}
	if window.Width < 0 || window.Height < 0 {
		return nil, fmt.Errorf("invalid window size %dx%d",
			window.Width, window.Height)
	}

	h.SetCurrentWindow(window)

	return okResponse, nil
}

func (h *WalletHost) resolveApproval(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req ResolveApprovalRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	outcome, err := approval.ParseOutcome(strings.ToLower(req.Outcome))
	if err != nil {
		return nil, err
	}

	if err := h.approvals.Resolve(req.ID, outcome); err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) getWhitelist(context.Context,
	*dispatch.Message) (interface{}, error) {

	origins, err := h.whitelist.List()
	if err != nil {
		return nil, err
	}

	return &WhitelistResponse{Origins: origins}, nil
}

func (h *WalletHost) removeFromWhitelist(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	var req WhitelistRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	if err := h.whitelist.Remove(req.Origin); err != nil {
		return nil, err
	}

	return okResponse, nil
}

func (h *WalletHost) debugLevel(_ context.Context,
	msg *dispatch.Message) (interface{}, error) {

	if h.cfg.Loggers == nil {
		return nil, errors.New("log levels are not managed")
	}

	var req DebugLevelRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	if req.LevelSpec != "" {
		err := build.ParseAndSetDebugLevels(req.LevelSpec, h.cfg.Loggers)
		if err != nil {
			return nil, err
		}

		rpcsLog.Infof("Log levels set to %v", req.LevelSpec)
	}

	return &DebugLevelResponse{Levels: h.cfg.Loggers.Levels()}, nil
}
