package satchel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/satchelwallet/satchel/approval"
	"github.com/satchelwallet/satchel/build"
	"github.com/satchelwallet/satchel/chain/btcwallet"
	"github.com/satchelwallet/satchel/chain/esplora"
	"github.com/satchelwallet/satchel/chain/evmwallet"
	"github.com/satchelwallet/satchel/dispatch"
	"github.com/satchelwallet/satchel/kvstore"
	"github.com/satchelwallet/satchel/monitoring"
	"github.com/satchelwallet/satchel/relay"
	"github.com/satchelwallet/satchel/signal"
	"golang.org/x/time/rate"
)

const (
	// readHeaderTimeout bounds the websocket upgrade request.
	readHeaderTimeout = 5 * time.Second

	// dialTimeout bounds the connection to the EVM backend.
	dialTimeout = 30 * time.Second

	// shutdownTimeout bounds the graceful stop of the listeners.
	shutdownTimeout = 10 * time.Second
)

// Main is the true entry point for satcheld. It's required since defers
// created in the top-level scope of a main method aren't executed if os.Exit()
// is called.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		satlLog.Info("Shutdown complete")
		if err := cfg.LogWriter.Close(); err != nil {
			satlLog.Errorf("Could not close log rotator: %v", err)
		}
	}()

	satlLog.Infof("Version: %s, network=%v, evm=%v", build.VersionInfo(),
		cfg.ActiveNetwork, cfg.ActiveEVMNetwork)

	store, err := kvstore.OpenBoltStore(cfg.DataDir, cfg.DBTimeout)
	if err != nil {
		err := fmt.Errorf("unable to open store: %w", err)
		satlLog.Error(err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			satlLog.Errorf("Unable to close store: %v", err)
		}
	}()

	var (
		chainSource   btcwallet.ChainSource
		esploraClient *esplora.Client
	)
	if cfg.Esplora.URL != "" {
		esploraClient = esplora.NewClient(&esplora.ClientConfig{
			URL:            cfg.Esplora.URL,
			RequestTimeout: cfg.Esplora.RequestTimeout,
			MaxRetries:     cfg.Esplora.MaxRetries,
			RetryStep:      cfg.Esplora.RetryStep,
		})
		chainSource = esploraClient
	}

	var (
		evmBalances evmwallet.BalanceSource
		evmClient   *ethclient.Client
	)
	if cfg.EVM.RPC != "" {
		ctx, stop := interceptor.Context(context.Background())
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		client, err := evmwallet.Dial(ctx, cfg.EVM.RPC)
		cancel()
		stop()
		if err != nil {
			err := fmt.Errorf("unable to dial EVM backend: %w", err)
			satlLog.Error(err)
			return err
		}
		defer client.Close()

		evmBalances = client
		evmClient = client
	}

	checks := chainBackendChecks(
		cfg.HealthChecks.ChainCheck, esploraClient, evmClient,
	)
	if len(checks) > 0 {
		monitor := healthcheck.NewMonitor(&healthcheck.Config{
			Checks: checks,
			Shutdown: func(format string, params ...interface{}) {
				satlLog.Criticalf("Health check failed: "+
					format, params...)
				interceptor.RequestShutdown()
			},
		})
		if err := monitor.Start(); err != nil {
			err := fmt.Errorf("unable to start health "+
				"monitor: %w", err)
			satlLog.Error(err)
			return err
		}
		defer func() {
			if err := monitor.Stop(); err != nil {
				satlLog.Errorf("Unable to stop health "+
					"monitor: %v", err)
			}
		}()
	}

	var metrics *monitoring.Metrics
	if cfg.Prometheus.Enabled() {
		metrics = monitoring.NewMetrics()
		if err := metrics.Start(cfg.Prometheus.Listen); err != nil {
			err := fmt.Errorf("unable to start prometheus "+
				"exporter: %w", err)
			satlLog.Error(err)
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer cancel()

			_ = metrics.Stop(ctx)
		}()
	}

	host, err := NewWalletHost(HostConfig{
		Store:          store,
		ScryptParams:   cfg.ScryptParams(),
		BitcoinNetwork: cfg.ActiveNetwork,
		EVMNetwork:     cfg.ActiveEVMNetwork,
		ChainSource:    chainSource,
		EVMBalances:    evmBalances,
		Retry: RetryConfig{
			Attempts:   cfg.Retry.Attempts,
			Backoff:    cfg.Retry.Backoff,
			MaxBackoff: cfg.Retry.MaxBackoff,
		},
		Opener:              approval.LogOpener{},
		ApprovalTimeout:     cfg.ApprovalTimeout,
		MaxPendingApprovals: cfg.MaxPendingApprovals,
		Popup:               *cfg.Popup,
		Metrics:             metrics,
		Loggers:             cfg.LogWriter.GenSubLogger,
	})
	if err != nil {
		err := fmt.Errorf("unable to create wallet host: %w", err)
		satlLog.Error(err)
		return err
	}
	defer func() {
		if err := host.Stop(); err != nil {
			satlLog.Errorf("Unable to stop wallet host: %v", err)
		}
	}()

	relayServer := relay.NewWSServer(relay.WSServerConfig{
		Handler:      requestTimeoutHandler(host, cfg.RequestTimeout),
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
		RateLimit:    rate.Limit(cfg.RelayRateLimit),
		RateBurst:    cfg.RelayRateBurst,

		TrustedBridges: cfg.RelayTrustedBridges,
	})
	defer relayServer.Stop()

	controlServer := dispatch.NewControlServer(dispatch.ServerConfig{
		Dispatcher:   host.Dispatcher(),
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
	})

	stopRelay, err := serve("relay", cfg.RelayListen, relayServer)
	if err != nil {
		satlLog.Error(err)
		return err
	}
	defer stopRelay()

	stopControl, err := serve("control", cfg.ControlListen, controlServer)
	if err != nil {
		satlLog.Error(err)
		return err
	}
	defer stopControl()

	satlLog.Infof("Wallet host ready, %d control handlers registered",
		len(host.Dispatcher().Types()))

	// Tell systemd we are up when running as a notify service.
	notified, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	switch {
	case err != nil:
		satlLog.Warnf("Unable to notify systemd: %v", err)
	case notified:
		satlLog.Debugf("Notified systemd of readiness")
	}

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler.
	<-interceptor.ShutdownChannel()

	return nil
}

// requestTimeoutHandler bounds every dapp request by timeout. Zero leaves
// requests unbounded.
func requestTimeoutHandler(handler relay.RequestHandler,
	timeout time.Duration) relay.RequestHandler {

	if timeout == 0 {
		return handler
	}

	return relay.RequestHandlerFunc(func(ctx context.Context,
		req *relay.Envelope) *relay.Envelope {

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler.HandleRequest(ctx, req)
	})
}

// serve starts an HTTP server for handler on listen and returns its stop
// function.
func serve(name, listen string, handler http.Handler) (func(), error) {
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("unable to listen for %s on %v: %w", name,
			listen, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	satlLog.Infof("%s listening on ws://%v", name, lis.Addr())

	go func() {
		err := server.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			satlLog.Errorf("%s server stopped: %v", name, err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			satlLog.Errorf("Unable to stop %s server: %v", name,
				err)
		}
	}, nil
}
