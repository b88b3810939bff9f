package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/satchelwallet/satchel/build"
	"github.com/satchelwallet/satchel/dispatch"
	"github.com/satchelwallet/satchel/signal"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

const (
	defaultControlHostPort = "localhost:7424"

	// defaultCallTimeout bounds calls that never wait for the user.
	defaultCallTimeout = 30 * time.Second
)

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[satchelcli] %v\n", err)
	os.Exit(1)
}

// actionDecorator turns an error returned by a command into a fatal exit
// with the command name attached.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if err := f(c); err != nil {
			return fmt.Errorf("%s: %w", c.Command.Name, err)
		}

		return nil
	}
}

// getContext returns a context that is cancelled on interrupt.
func getContext() context.Context {
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		fatal(err)
	}

	ctxc, _ := shutdownInterceptor.Context(context.Background())

	return ctxc
}

// getClient dials the control channel of the daemon.
func getClient(ctx context.Context,
	c *cli.Context) (*dispatch.ControlClient, func()) {

	url := "ws://" + c.GlobalString("controlserver")
	client, err := dispatch.DialControl(ctx, url)
	if err != nil {
		fatal(err)
	}

	cleanUp := func() {
		_ = client.Close()
	}

	return client, cleanUp
}

// call sends one control message that needs no user interaction.
func call(ctx context.Context, c *cli.Context, msgType string,
	req, resp interface{}) error {

	client, cleanUp := getClient(ctx, c)
	defer cleanUp()

	ctxt, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	return client.Call(ctxt, msgType, req, resp)
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}

	fmt.Println(string(b))
}

// readPassword reads a password from the terminal. This requires there to be an
// actual TTY so passing in a password from stdin won't work.
func readPassword(text string) ([]byte, error) {
	fmt.Print(text)

	// The variable syscall.Stdin is of a different type in the Windows API
	// that's why we need the explicit cast. And of course the linter
	// doesn't like it either.
	pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Println()

	return pw, err
}

func main() {
	app := cli.NewApp()
	app.Name = "satchelcli"
	app.Version = build.VersionInfo()
	app.Usage = "control plane for your satchel wallet host (satcheld)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "controlserver",
			Value: defaultControlHostPort,
			Usage: "The host:port of the satcheld control channel.",
		},
	}
	app.Commands = []cli.Command{
		onboardingStateCommand,
		createMnemonicCommand,
		importMnemonicCommand,
		encryptCommand,
		changePasswordCommand,
		acceptTermsCommand,
		addAccountCommand,
		setOffchainAddressCommand,
		getAddressCommand,
		getBalanceCommand,
		getUtxosCommand,
		signMessageCommand,
		challengeCommand,
		approvalsCommand,
		whitelistCommand,
		debugLevelCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
