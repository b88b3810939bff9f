package main

import (
	"context"
	"fmt"
	"time"

	"github.com/satchelwallet/satchel"
	"github.com/satchelwallet/satchel/dispatch"
	"github.com/urfave/cli"
)

// challengePollInterval is how often a waiting call checks for a password
// challenge.
const challengePollInterval = 250 * time.Millisecond

// callInteractive sends one control message that may need the vault password.
// While the call is in flight, every challenge the host opens is answered
// from the terminal. An empty password cancels the challenge.
func callInteractive(ctx context.Context, c *cli.Context, msgType string,
	req, resp interface{}) error {

	client, cleanUp := getClient(ctx, c)
	defer cleanUp()

	errChan := make(chan error, 1)
	go func() {
		errChan <- client.Call(ctx, msgType, req, resp)
	}()

	ticker := time.NewTicker(challengePollInterval)
	defer ticker.Stop()

	var answered uint64
	for {
		select {
		case err := <-errChan:
			return err

		case <-ticker.C:
			id, err := answerChallenge(ctx, client, answered)
			if err != nil {
				return err
			}
			if id != 0 {
				answered = id
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// answerChallenge prompts for the open challenge, unless it is the one with
// id skip, and returns the id it answered.
func answerChallenge(ctx context.Context, client *dispatch.ControlClient,
	skip uint64) (uint64, error) {

	var pending satchel.ChallengeResponse
	err := client.Call(ctx, satchel.MsgGetChallenge, nil, &pending)
	if err != nil {
		return 0, err
	}

	open := pending.Challenge
	if open == nil || open.ID == skip {
		return 0, nil
	}

	pw, err := readPassword(fmt.Sprintf("Vault password (%v): ",
		open.Kind))
	if err != nil {
		return 0, err
	}

	if len(pw) == 0 {
		err = client.Call(
			ctx, satchel.MsgCancelChallenge,
			&satchel.IDRequest{ID: open.ID}, nil,
		)

		return open.ID, err
	}

	err = client.Call(
		ctx, satchel.MsgSubmitChallenge,
		&satchel.SubmitChallengeRequest{
			ID:       open.ID,
			Password: string(pw),
		}, nil,
	)

	return open.ID, err
}
