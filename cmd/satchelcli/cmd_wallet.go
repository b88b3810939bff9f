package main

import (
	"strconv"

	"github.com/satchelwallet/satchel"
	"github.com/urfave/cli"
)

var networkFlag = cli.StringFlag{
	Name:  "network",
	Value: "bitcoin",
	Usage: "The network the account lives on.",
}

var accountFlag = cli.Uint64Flag{
	Name:  "account",
	Usage: "The account index.",
}

func accountRequest(c *cli.Context) *satchel.AccountRequest {
	return &satchel.AccountRequest{
		Network: c.String("network"),
		Account: uint32(c.Uint64("account")),
	}
}

var addAccountCommand = cli.Command{
	Name:     "addaccount",
	Category: "Wallet",
	Usage:    "Derive and store the public keys of an account.",
	Flags:    []cli.Flag{accountFlag},
	Action:   actionDecorator(addAccount),
}

func addAccount(c *cli.Context) error {
	return callInteractive(
		getContext(), c, satchel.MsgAddAccount, accountRequest(c), nil,
	)
}

var setOffchainAddressCommand = cli.Command{
	Name:      "setoffchainaddress",
	Category:  "Wallet",
	Usage:     "Store the ark off-chain address of an account.",
	ArgsUsage: "address",
	Flags:     []cli.Flag{accountFlag},
	Action:    actionDecorator(setOffchainAddress),
}

func setOffchainAddress(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, "setoffchainaddress")
	}

	return call(getContext(), c, satchel.MsgSetOffchainAddress,
		&satchel.OffchainAddressRequest{
			Account: uint32(c.Uint64("account")),
			Address: c.Args().First(),
		}, nil)
}

var getAddressCommand = cli.Command{
	Name:     "getaddress",
	Category: "Wallet",
	Usage:    "Show the receive address of an account.",
	Flags:    []cli.Flag{networkFlag, accountFlag},
	Action:   actionDecorator(getAddress),
}

func getAddress(c *cli.Context) error {
	var resp satchel.AddressResponse
	err := callInteractive(
		getContext(), c, satchel.MsgGetAddress, accountRequest(c),
		&resp,
	)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

var getBalanceCommand = cli.Command{
	Name:     "balance",
	Category: "Wallet",
	Usage:    "Show the balance of an account.",
	Flags:    []cli.Flag{networkFlag, accountFlag},
	Action:   actionDecorator(getBalance),
}

func getBalance(c *cli.Context) error {
	var resp satchel.BalanceResponse
	err := call(
		getContext(), c, satchel.MsgGetBalance, accountRequest(c),
		&resp,
	)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

var getUtxosCommand = cli.Command{
	Name:     "listunspent",
	Category: "Wallet",
	Usage:    "List the unspent outputs of a bitcoin account.",
	Flags:    []cli.Flag{networkFlag, accountFlag},
	Action:   actionDecorator(getUtxos),
}

func getUtxos(c *cli.Context) error {
	var resp satchel.UtxosResponse
	err := call(
		getContext(), c, satchel.MsgGetUtxos, accountRequest(c), &resp,
	)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

var signMessageCommand = cli.Command{
	Name:      "signmessage",
	Category:  "Wallet",
	Usage:     "Sign a message with the key of an account.",
	ArgsUsage: "msg",
	Flags: []cli.Flag{
		networkFlag,
		accountFlag,
		cli.StringFlag{
			Name: "encoding",
			Usage: "the text encoding of bitcoin signatures, " +
				"base64 or zbase32",
			Value: "base64",
		},
	},
	Action: actionDecorator(signMessage),
}

func signMessage(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, "signmessage")
	}

	req := &satchel.SignMessageRequest{
		Network:  c.String("network"),
		Account:  uint32(c.Uint64("account")),
		Message:  c.Args().First(),
		Encoding: c.String("encoding"),
	}

	var resp satchel.SignatureResponse
	err := callInteractive(
		getContext(), c, satchel.MsgSignMessage, req, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

// parseID parses the id argument of a command.
func parseID(c *cli.Context, command string) (uint64, error) {
	if c.NArg() != 1 {
		return 0, cli.ShowCommandHelp(c, command)
	}

	return strconv.ParseUint(c.Args().First(), 10, 64)
}
