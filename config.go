// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (C) 2015-2020 The Lightning Network Developers

package satchel

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/satchelwallet/satchel/approval"
	"github.com/satchelwallet/satchel/build"
	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/monitoring"
	"github.com/satchelwallet/satchel/relay"
	"github.com/satchelwallet/satchel/signal"
	"github.com/satchelwallet/satchel/vault"
)

const (
	defaultConfigFilename = "satcheld.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "satcheld.log"

	defaultNetwork    = "mainnet"
	defaultEVMNetwork = string(chain.Ethereum)

	defaultRelayListen   = "127.0.0.1:7423"
	defaultControlListen = "127.0.0.1:7424"

	defaultEsploraURL        = "https://blockstream.info/api"
	defaultEsploraTimeout    = 30 * time.Second
	defaultEsploraMaxRetries = 3
	defaultEsploraRetryStep  = time.Second

	defaultDBTimeout = 10 * time.Second

	defaultRetryAttempts   = 3
	defaultRetryBackoff    = time.Second
	defaultRetryMaxBackoff = 5 * time.Second

	defaultRelayRateLimit = 20
	defaultRelayRateBurst = 40

	defaultChainInterval = time.Minute
	defaultChainAttempts = 3
	defaultChainTimeout  = 30 * time.Second
	defaultChainBackoff  = 2 * time.Minute
)

var (
	// DefaultSatchelDir is the default directory where satcheld tries to
	// find its configuration file and store its data.
	DefaultSatchelDir = btcutil.AppDataDir("satchel", false)

	// DefaultConfigFile is the default full path of satcheld's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultSatchelDir, defaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultSatchelDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultSatchelDir, defaultLogDirname)
)

// Esplora holds the options of the bitcoin chain backend.
//
//nolint:lll
type Esplora struct {
	URL            string        `long:"url" description:"The base URL of the esplora REST API"`
	RequestTimeout time.Duration `long:"requesttimeout" description:"Timeout of a single esplora request"`
	MaxRetries     int           `long:"maxretries" description:"How many times a failed esplora request is retried"`
	RetryStep      time.Duration `long:"retrystep" description:"Linear backoff step between esplora retries"`
}

// EVM holds the options of the EVM chain backend.
//
//nolint:lll
type EVM struct {
	Network string `long:"network" description:"The EVM network the host starts on" choice:"ethereum" choice:"sepolia"`
	RPC     string `long:"rpc" description:"JSON-RPC endpoint used for EVM balances. Balances are unavailable if unset"`
}

// Scrypt holds the vault KDF cost.
//
//nolint:lll
type Scrypt struct {
	N int `long:"n" description:"scrypt CPU/memory cost, a power of two"`
	R int `long:"r" description:"scrypt block size"`
	P int `long:"p" description:"scrypt parallelism"`
}

// Retry holds the retry policy of calls through the single-connection SDK.
//
//nolint:lll
type Retry struct {
	Attempts   int           `long:"attempts" description:"How many times an SDK call is attempted"`
	Backoff    time.Duration `long:"backoff" description:"Linear backoff step between attempts"`
	MaxBackoff time.Duration `long:"maxbackoff" description:"Upper bound of the wait between attempts"`
}

// Config defines the configuration options for satcheld.
//
// See LoadConfig for further details regarding the configuration
// loading+parsing process.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	SatchelDir string `long:"satcheldir" description:"The base directory that contains satcheld's data, logs, configuration file, etc."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store satcheld's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Network string `long:"network" description:"The bitcoin network" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest"`

	RelayListen   string `long:"relaylisten" description:"Address the dapp relay websocket listens on"`
	ControlListen string `long:"controllisten" description:"Address the control channel websocket listens on"`

	WSPingInterval time.Duration `long:"ws-ping-interval" description:"The ping interval for websocket connections. Set to 0 to disable sending ping messages."`
	WSPongWait     time.Duration `long:"ws-pong-wait" description:"The time we wait for a pong response message on websocket connections before we close the connection as inactive."`

	RelayRateLimit float64 `long:"relayratelimit" description:"Requests per second a single dapp connection may send. Set to 0 to disable the limit."`
	RelayRateBurst int     `long:"relayrateburst" description:"The number of requests a dapp connection may send at once above its rate"`

	RelayTrustedBridges []string `long:"relaytrustedbridge" description:"Origin of a bridge allowed to relay requests on behalf of pages. Other connections always speak for their own origin. Can be specified multiple times"`

	RequestTimeout      time.Duration `long:"requesttimeout" description:"How long a dapp request may wait for its reply. Set to 0 to wait forever."`
	ApprovalTimeout     time.Duration `long:"approvaltimeout" description:"How long an approval waits for the user before it is rejected. Set to 0 to wait forever."`
	MaxPendingApprovals int           `long:"maxpendingapprovals" description:"The maximum number of approvals waiting for the user"`

	DBTimeout time.Duration `long:"dbtimeout" description:"How long to wait for the store file lock"`

	Esplora *Esplora `group:"esplora" namespace:"esplora"`

	EVM *EVM `group:"evm" namespace:"evm"`

	Scrypt *Scrypt `group:"scrypt" namespace:"scrypt"`

	Popup *approval.Geometry `group:"popup" namespace:"popup"`

	Retry *Retry `group:"retry" namespace:"retry"`

	HealthChecks *HealthChecks `group:"healthcheck" namespace:"healthcheck"`

	Prometheus monitoring.Prometheus `group:"prometheus" namespace:"prometheus"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// LogWriter is the root logger that all of the daemon's subloggers are
	// hooked up to.
	LogWriter *build.RotatingLogWriter

	// ActiveNetwork is the bitcoin network kind selected by Network.
	ActiveNetwork chain.NetworkKind

	// ActiveEVMNetwork is the EVM network kind selected by EVM.Network.
	ActiveEVMNetwork chain.NetworkKind
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		SatchelDir:          DefaultSatchelDir,
		ConfigFile:          DefaultConfigFile,
		DataDir:             defaultDataDir,
		LogDir:              defaultLogDir,
		DebugLevel:          defaultLogLevel,
		Network:             defaultNetwork,
		RelayListen:         defaultRelayListen,
		ControlListen:       defaultControlListen,
		WSPingInterval:      relay.DefaultPingInterval,
		WSPongWait:          relay.DefaultPongWait,
		RelayRateLimit:      defaultRelayRateLimit,
		RelayRateBurst:      defaultRelayRateBurst,
		RequestTimeout:      relay.DefaultRequestTimeout,
		ApprovalTimeout:     approval.DefaultTimeout,
		MaxPendingApprovals: approval.DefaultMaxPending,
		DBTimeout:           defaultDBTimeout,
		Esplora: &Esplora{
			URL:            defaultEsploraURL,
			RequestTimeout: defaultEsploraTimeout,
			MaxRetries:     defaultEsploraMaxRetries,
			RetryStep:      defaultEsploraRetryStep,
		},
		EVM: &EVM{
			Network: defaultEVMNetwork,
		},
		Scrypt: &Scrypt{
			N: vault.DefaultScryptParams.N,
			R: vault.DefaultScryptParams.R,
			P: vault.DefaultScryptParams.P,
		},
		Popup: func() *approval.Geometry {
			g := approval.DefaultGeometry()
			return &g
		}(),
		Retry: &Retry{
			Attempts:   defaultRetryAttempts,
			Backoff:    defaultRetryBackoff,
			MaxBackoff: defaultRetryMaxBackoff,
		},
		HealthChecks: &HealthChecks{
			ChainCheck: &CheckConfig{
				Interval: defaultChainInterval,
				Attempts: defaultChainAttempts,
				Timeout:  defaultChainTimeout,
				Backoff:  defaultChainBackoff,
			},
		},
		Prometheus: monitoring.DefaultPrometheus(),
		LogConfig:  build.DefaultLogConfig(),
		LogWriter:  build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.VersionInfo())
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their satcheldir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.SatchelDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultSatchelDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, interceptor)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		satlLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config,
	interceptor signal.Interceptor) (*Config, error) {

	// If the provided satchel directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	satchelDir := CleanAndExpandPath(cfg.SatchelDir)
	if satchelDir != DefaultSatchelDir {
		cfg.DataDir = filepath.Join(satchelDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(satchelDir, defaultLogDirname)
	}

	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	var err error
	cfg.ActiveNetwork, err = chain.BitcoinNetworkByName(cfg.Network)
	if err != nil {
		return nil, err
	}

	cfg.ActiveEVMNetwork, err = chain.ParseNetworkKind(cfg.EVM.Network)
	if err != nil {
		return nil, err
	}
	if cfg.ActiveEVMNetwork.Family() != chain.FamilyEVM {
		return nil, fmt.Errorf("evm.network: %v is not an EVM network",
			cfg.EVM.Network)
	}

	// Append the network type to the data and log directories so they
	// are "namespaced" per network.
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.Network)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.Network)

	switch {
	case cfg.Scrypt.N < 2 || cfg.Scrypt.N&(cfg.Scrypt.N-1) != 0:
		return nil, fmt.Errorf("scrypt.n must be a power of two "+
			"greater than one, got %d", cfg.Scrypt.N)

	case cfg.Scrypt.R < 1 || cfg.Scrypt.P < 1:
		return nil, errors.New("scrypt.r and scrypt.p must be " +
			"positive")
	}

	if cfg.Popup.Width <= 0 || cfg.Popup.Height <= 0 {
		return nil, errors.New("popup width and height must be " +
			"positive")
	}

	if cfg.MaxPendingApprovals <= 0 {
		return nil, errors.New("maxpendingapprovals must be positive")
	}

	if cfg.RequestTimeout < 0 || cfg.ApprovalTimeout < 0 {
		return nil, errors.New("timeouts must not be negative")
	}

	if cfg.RelayRateLimit < 0 || cfg.RelayRateBurst < 0 {
		return nil, errors.New("relay rate limit and burst must not " +
			"be negative")
	}

	chainCheck := cfg.HealthChecks.ChainCheck
	if err := chainCheck.Validate("chainbackend"); err != nil {
		return nil, err
	}

	if cfg.Retry.Attempts < 1 {
		return nil, errors.New("retry.attempts must be at least one")
	}

	if cfg.Esplora.URL == "" {
		return nil, errors.New("esplora.url must be set")
	}

	if cfg.Prometheus.Enabled() && cfg.Prometheus.Listen == "" {
		return nil, errors.New("prometheus.listen must be set when " +
			"the exporter is enabled")
	}

	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, fmt.Errorf("error validating logging config: %w",
			err)
	}

	// Initialize logging at the default logging level, then parse and set
	// the debug levels as specified on the command line or config file.
	SetupLoggers(cfg.LogWriter, interceptor)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.LogWriter.GenSubLogger.SupportedSubsystems())
		os.Exit(0)
	}

	if cfg.LogConfig.Console.Disable {
		cfg.LogWriter.DisableConsole()
	}

	if !cfg.LogConfig.File.Disable {
		err := cfg.LogWriter.InitLogRotator(
			cfg.LogConfig.File,
			filepath.Join(cfg.LogDir, defaultLogFilename),
		)
		if err != nil {
			return nil, err
		}
	}

	err = build.ParseAndSetDebugLevels(
		cfg.DebugLevel, cfg.LogWriter.GenSubLogger,
	)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ScryptParams returns the vault KDF cost of the config.
func (c *Config) ScryptParams() vault.ScryptParams {
	return vault.ScryptParams{
		N: c.Scrypt.N,
		R: c.Scrypt.R,
		P: c.Scrypt.P,
	}
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
