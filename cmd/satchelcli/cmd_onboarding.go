package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/satchelwallet/satchel"
	"github.com/urfave/cli"
)

var onboardingStateCommand = cli.Command{
	Name:     "state",
	Category: "Onboarding",
	Usage:    "Show how far onboarding got.",
	Action:   actionDecorator(onboardingState),
}

func onboardingState(c *cli.Context) error {
	ctxc := getContext()

	var resp satchel.OnboardingState
	err := call(ctxc, c, satchel.MsgGetOnboardingState, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

var createMnemonicCommand = cli.Command{
	Name:     "create",
	Category: "Onboarding",
	Usage:    "Generate and store a new recovery phrase.",
	Description: `
	Generates a fresh BIP-39 recovery phrase, stores it in the vault and
	prints it once. Write it down, it is never shown again.`,
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "entropy",
			Value: 128,
			Usage: "Entropy bits of the phrase, 128 for 12 words " +
				"or 256 for 24 words.",
		},
	},
	Action: actionDecorator(createMnemonic),
}

func createMnemonic(c *cli.Context) error {
	ctxc := getContext()

	var resp satchel.MnemonicResponse
	err := call(ctxc, c, satchel.MsgCreateMnemonic,
		&satchel.CreateMnemonicRequest{
			EntropyBits: c.Int("entropy"),
		}, &resp)
	if err != nil {
		return err
	}

	fmt.Println("!!!YOU MUST WRITE DOWN THIS RECOVERY PHRASE TO BE " +
		"ABLE TO RESTORE THE WALLET!!!")
	fmt.Println()
	fmt.Println(resp.Mnemonic)

	return nil
}

var importMnemonicCommand = cli.Command{
	Name:      "import",
	Category:  "Onboarding",
	Usage:     "Store an existing recovery phrase.",
	ArgsUsage: "\"word1 word2 ...\"",
	Action:    actionDecorator(importMnemonic),
}

func importMnemonic(c *cli.Context) error {
	ctxc := getContext()

	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, "import")
	}

	return call(ctxc, c, satchel.MsgSaveMnemonic,
		&satchel.SaveMnemonicRequest{Mnemonic: c.Args().First()}, nil)
}

// readNewPassword prompts twice for a new password.
func readNewPassword() ([]byte, error) {
	pw, err := readPassword("Input new vault password: ")
	if err != nil {
		return nil, err
	}

	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(pw, confirm) {
		return nil, errors.New("passwords don't match")
	}

	return pw, nil
}

var encryptCommand = cli.Command{
	Name:     "encrypt",
	Category: "Onboarding",
	Usage:    "Encrypt the stored recovery phrase with a password.",
	Action:   actionDecorator(encrypt),
}

func encrypt(c *cli.Context) error {
	ctxc := getContext()

	pw, err := readNewPassword()
	if err != nil {
		return err
	}

	return call(ctxc, c, satchel.MsgEncryptMnemonic,
		&satchel.PasswordRequest{Password: string(pw)}, nil)
}

var changePasswordCommand = cli.Command{
	Name:     "changepassword",
	Category: "Onboarding",
	Usage:    "Change the vault password.",
	Action:   actionDecorator(changePassword),
}

func changePassword(c *cli.Context) error {
	ctxc := getContext()

	oldPw, err := readPassword("Input current vault password: ")
	if err != nil {
		return err
	}

	newPw, err := readNewPassword()
	if err != nil {
		return err
	}

	return call(ctxc, c, satchel.MsgChangePassword,
		&satchel.ChangePasswordRequest{
			OldPassword: string(oldPw),
			NewPassword: string(newPw),
		}, nil)
}

var acceptTermsCommand = cli.Command{
	Name:     "acceptterms",
	Category: "Onboarding",
	Usage:    "Record that the terms of use were accepted.",
	Action:   actionDecorator(acceptTerms),
}

func acceptTerms(c *cli.Context) error {
	return call(getContext(), c, satchel.MsgAcceptTerms, nil, nil)
}
