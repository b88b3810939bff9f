package satchel

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/satchelwallet/satchel/chain/esplora"
)

// CheckConfig is the schedule of one health check.
//
//nolint:lll
type CheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often the check runs"`
	Attempts int           `long:"attempts" description:"How many failed attempts in a row shut the daemon down. Set to 0 to disable the check"`
	Timeout  time.Duration `long:"timeout" description:"The time allowed for one attempt"`
	Backoff  time.Duration `long:"backoff" description:"The wait between two failed attempts"`
}

// HealthChecks holds the checks run while the daemon is up.
type HealthChecks struct {
	ChainCheck *CheckConfig `group:"chainbackend" namespace:"chainbackend"`
}

// Validate checks that enabled checks have a usable schedule.
func (c *CheckConfig) Validate(name string) error {
	if c.Attempts == 0 {
		return nil
	}

	if c.Attempts < 0 || c.Interval <= 0 || c.Timeout <= 0 ||
		c.Backoff < 0 {

		return fmt.Errorf("healthcheck.%s: attempts must not be "+
			"negative and interval and timeout must be positive",
			name)
	}

	return nil
}

// chainBackendChecks returns one observation per configured chain backend.
// Disabled checks and absent backends produce none.
func chainBackendChecks(cfg *CheckConfig, esploraClient *esplora.Client,
	evmClient *ethclient.Client) []*healthcheck.Observation {

	if cfg == nil || cfg.Attempts == 0 {
		return nil
	}

	var checks []*healthcheck.Observation
	observe := func(name string, check func(context.Context) error) {
		checks = append(checks, healthcheck.NewObservation(
			name,
			func() error {
				ctx, cancel := context.WithTimeout(
					context.Background(), cfg.Timeout,
				)
				defer cancel()

				return check(ctx)
			},
			cfg.Interval, cfg.Timeout, cfg.Backoff, cfg.Attempts,
		))
	}

	if esploraClient != nil {
		observe("esplora", func(ctx context.Context) error {
			_, err := esploraClient.GetTipHeight(ctx)
			return err
		})
	}

	if evmClient != nil {
		observe("evm", func(ctx context.Context) error {
			_, err := evmClient.BlockNumber(ctx)
			return err
		})
	}

	return checks
}
