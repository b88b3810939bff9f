package main

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/satchelwallet/satchel"
	"github.com/satchelwallet/satchel/approval"
	"github.com/urfave/cli"
)

var challengeCommand = cli.Command{
	Name:     "challenge",
	Category: "Approvals",
	Usage:    "Inspect or answer the open password challenge.",
	Subcommands: []cli.Command{
		{
			Name:   "show",
			Usage:  "Show the open challenge, if any.",
			Action: actionDecorator(showChallenge),
		},
		{
			Name:      "submit",
			Usage:     "Answer the challenge with the vault password.",
			ArgsUsage: "id",
			Action:    actionDecorator(submitChallenge),
		},
		{
			Name:      "cancel",
			Usage:     "Cancel the challenge.",
			ArgsUsage: "id",
			Action:    actionDecorator(cancelChallenge),
		},
	},
}

func showChallenge(c *cli.Context) error {
	var resp satchel.ChallengeResponse
	err := call(getContext(), c, satchel.MsgGetChallenge, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

func submitChallenge(c *cli.Context) error {
	id, err := parseID(c, "submit")
	if err != nil {
		return err
	}

	pw, err := readPassword("Vault password: ")
	if err != nil {
		return err
	}

	return call(getContext(), c, satchel.MsgSubmitChallenge,
		&satchel.SubmitChallengeRequest{
			ID:       id,
			Password: string(pw),
		}, nil)
}

func cancelChallenge(c *cli.Context) error {
	id, err := parseID(c, "cancel")
	if err != nil {
		return err
	}

	return call(getContext(), c, satchel.MsgCancelChallenge,
		&satchel.IDRequest{ID: id}, nil)
}

var approvalsCommand = cli.Command{
	Name:     "approvals",
	Category: "Approvals",
	Usage:    "List or resolve the dapp requests waiting for the user.",
	Subcommands: []cli.Command{
		{
			Name:  "list",
			Usage: "List the pending approvals.",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "json",
					Usage: "print the raw response as json",
				},
			},
			Action: actionDecorator(listApprovals),
		},
		{
			Name:      "show",
			Usage:     "Show one pending approval with its params.",
			ArgsUsage: "id",
			Action:    actionDecorator(showApproval),
		},
		{
			Name:      "allow",
			Usage:     "Allow a pending approval.",
			ArgsUsage: "id",
			Action:    actionDecorator(resolveApproval("allow")),
		},
		{
			Name:      "deny",
			Usage:     "Deny a pending approval.",
			ArgsUsage: "id",
			Action:    actionDecorator(resolveApproval("deny")),
		},
	},
}

func listApprovals(c *cli.Context) error {
	var resp satchel.ApprovalsResponse
	err := call(getContext(), c, satchel.MsgListApprovals, nil, &resp)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		printJSON(&resp)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Method", "Origin", "Waiting"})
	for _, req := range resp.Approvals {
		waiting := time.Since(req.CreatedAt).Round(time.Second)
		t.AppendRow(table.Row{req.ID, req.Method, req.Origin, waiting})
	}
	t.Render()

	return nil
}

func showApproval(c *cli.Context) error {
	id, err := parseID(c, "show")
	if err != nil {
		return err
	}

	var resp approval.Request
	err = call(getContext(), c, satchel.MsgGetApproval,
		&satchel.IDRequest{ID: id}, &resp)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

func resolveApproval(outcome string) func(*cli.Context) error {
	return func(c *cli.Context) error {
		id, err := parseID(c, outcome)
		if err != nil {
			return err
		}

		return call(getContext(), c, satchel.MsgResolveApproval,
			&satchel.ResolveApprovalRequest{
				ID:      id,
				Outcome: outcome,
			}, nil)
	}
}

var whitelistCommand = cli.Command{
	Name:     "whitelist",
	Category: "Approvals",
	Usage:    "Manage the origins allowed to read addresses.",
	Subcommands: []cli.Command{
		{
			Name:   "list",
			Usage:  "List the whitelisted origins.",
			Action: actionDecorator(listWhitelist),
		},
		{
			Name:      "remove",
			Usage:     "Forget an origin.",
			ArgsUsage: "origin",
			Action:    actionDecorator(removeFromWhitelist),
		},
	},
}

func listWhitelist(c *cli.Context) error {
	var resp satchel.WhitelistResponse
	err := call(getContext(), c, satchel.MsgGetWhitelist, nil, &resp)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}

func removeFromWhitelist(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, "remove")
	}

	return call(getContext(), c, satchel.MsgRemoveFromWhitelist,
		&satchel.WhitelistRequest{Origin: c.Args().First()}, nil)
}

var debugLevelCommand = cli.Command{
	Name:     "debuglevel",
	Category: "Daemon",
	Usage:    "Show or set the log levels of satcheld.",
	Description: `
	Without --level the current level of every subsystem is shown.
	Otherwise the levels are set from a string of the form
	<global-level>,<subsystem>=<level>,...`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "level",
			Usage: "the debug levels to apply",
		},
	},
	Action: actionDecorator(debugLevel),
}

func debugLevel(c *cli.Context) error {
	var resp satchel.DebugLevelResponse
	err := call(getContext(), c, satchel.MsgDebugLevel,
		&satchel.DebugLevelRequest{LevelSpec: c.String("level")}, &resp)
	if err != nil {
		return err
	}

	printJSON(&resp)

	return nil
}
