package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
)

// ErrUnknownNetwork is returned for a network kind the wallet does not know.
var ErrUnknownNetwork = errors.New("unknown network")

// Family groups the networks that share one address strategy.
type Family string

const (
	// FamilyBitcoin addresses come from a cached watch-only wallet built
	// from the stored account xpub.
	FamilyBitcoin Family = "btc"

	// FamilyEVM addresses are derived from the stored account xpub.
	FamilyEVM Family = "evm"

	// FamilyArk addresses are precomputed off-chain addresses.
	FamilyArk Family = "ark"

	// FamilyLiquid wallets live behind the single-connection SDK.
	FamilyLiquid Family = "liquid"

	// FamilyLightning wallets live behind the single-connection SDK.
	FamilyLightning Family = "lightning"
)

// NetworkKind names a network a request targets.
type NetworkKind string

// The known network kinds.
const (
	Bitcoin        NetworkKind = "bitcoin"
	BitcoinTestnet NetworkKind = "bitcoin-testnet"
	BitcoinSignet  NetworkKind = "bitcoin-signet"
	BitcoinRegtest NetworkKind = "bitcoin-regtest"
	Ethereum       NetworkKind = "ethereum"
	Sepolia        NetworkKind = "sepolia"
	Ark            NetworkKind = "ark"
	Liquid         NetworkKind = "liquid"
	Lightning      NetworkKind = "lightning"
)

type network struct {
	family     Family
	btcParams  *chaincfg.Params
	evmChainID uint64
}

var networks = map[NetworkKind]network{
	Bitcoin: {
		family:    FamilyBitcoin,
		btcParams: &chaincfg.MainNetParams,
	},
	BitcoinTestnet: {
		family:    FamilyBitcoin,
		btcParams: &chaincfg.TestNet3Params,
	},
	BitcoinSignet: {
		family:    FamilyBitcoin,
		btcParams: &chaincfg.SigNetParams,
	},
	BitcoinRegtest: {
		family:    FamilyBitcoin,
		btcParams: &chaincfg.RegressionNetParams,
	},
	Ethereum: {
		family:     FamilyEVM,
		evmChainID: 1,
	},
	Sepolia: {
		family:     FamilyEVM,
		evmChainID: 11155111,
	},
	Ark:       {family: FamilyArk},
	Liquid:    {family: FamilyLiquid},
	Lightning: {family: FamilyLightning},
}

// ParseNetworkKind validates s as a network kind.
func ParseNetworkKind(s string) (NetworkKind, error) {
	kind := NetworkKind(s)
	if _, ok := networks[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
	}

	return kind, nil
}

// NetworkKinds returns every known network kind, sorted.
func NetworkKinds() []NetworkKind {
	kinds := make([]NetworkKind, 0, len(networks))
	for kind := range networks {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i] < kinds[j]
	})

	return kinds
}

// Family returns the family of the network, or "" if it is unknown.
func (n NetworkKind) Family() Family {
	return networks[n].family
}

// BitcoinParams returns the chain params of a bitcoin network.
func (n NetworkKind) BitcoinParams() (*chaincfg.Params, error) {
	net, ok := networks[n]
	if !ok || net.btcParams == nil {
		return nil, fmt.Errorf("%w: %q is not a bitcoin network",
			ErrUnknownNetwork, n)
	}

	return net.btcParams, nil
}

// EVMChainID returns the chain id of an EVM network.
func (n NetworkKind) EVMChainID() (uint64, error) {
	net, ok := networks[n]
	if !ok || net.family != FamilyEVM {
		return 0, fmt.Errorf("%w: %q is not an EVM network",
			ErrUnknownNetwork, n)
	}

	return net.evmChainID, nil
}

// EVMNetworkByChainID returns the EVM network with the given chain id.
func EVMNetworkByChainID(chainID uint64) (NetworkKind, bool) {
	for kind, net := range networks {
		if net.family == FamilyEVM && net.evmChainID == chainID {
			return kind, true
		}
	}

	return "", false
}

// BitcoinNetworkByName maps the daemon's network option (mainnet, testnet,
// signet, regtest) to its bitcoin network kind.
func BitcoinNetworkByName(name string) (NetworkKind, error) {
	switch name {
	case "mainnet":
		return Bitcoin, nil

	case "testnet":
		return BitcoinTestnet, nil

	case "signet":
		return BitcoinSignet, nil

	case "regtest":
		return BitcoinRegtest, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}
