// Package config holds the settings of the relay and member binaries, read
// from flags, ANONSIGNAL_ environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/relay"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/db"
)

// EnvPrefix is the prefix of the environment variables, e.g.
// ANONSIGNAL_CENSUS_DEPTH for census.depth.
const EnvPrefix = "ANONSIGNAL"

const (
	NullifiersArbo  = "arbo"
	NullifiersRedis = "redis"
	LedgerMemory    = "memory"
	LedgerWeb3      = "web3"
)

// Config is the relay configuration.
type Config struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DataDir    string `mapstructure:"data_dir"`
	DBType     string `mapstructure:"db_type"`
	LogLevel   string `mapstructure:"log_level"`
	LogOutput  string `mapstructure:"log_output"`
	AdminToken string `mapstructure:"admin_token"`
	// Scope is hashed into the external nullifier of the signals. An
	// explicit ExternalNullifier takes precedence.
	Scope             string `mapstructure:"scope"`
	ExternalNullifier string `mapstructure:"external_nullifier"`

	Census     CensusConfig     `mapstructure:"census"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Nullifiers NullifiersConfig `mapstructure:"nullifiers"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Circuit    CircuitConfig    `mapstructure:"circuit"`
}

// CensusConfig configures the membership set.
type CensusConfig struct {
	Depth       int    `mapstructure:"depth"`
	RootHistory int    `mapstructure:"root_history"`
	SourceURL   string `mapstructure:"source_url"`
	// SourceInterval is the polling period of SourceURL.
	SourceInterval time.Duration `mapstructure:"source_interval"`
}

// RelayConfig configures forwarding and confirmation waits.
type RelayConfig struct {
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	QueueInterval       time.Duration `mapstructure:"queue_interval"`
	RetryInitial        time.Duration `mapstructure:"retry_initial"`
	RetryMaxInterval    time.Duration `mapstructure:"retry_max_interval"`
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
}

// NullifiersConfig selects the nullifier registry.
type NullifiersConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// LedgerConfig selects the ledger signals are forwarded to.
type LedgerConfig struct {
	Backend      string        `mapstructure:"backend"`
	Web3RPCs     []string      `mapstructure:"web3_rpcs"`
	Contract     string        `mapstructure:"contract"`
	PrivKey      string        `mapstructure:"privkey"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CircuitConfig locates the circuit artifacts. With Dev set, the keys are
// generated at start up instead, which is only suitable for testing.
type CircuitConfig struct {
	Dev              bool   `mapstructure:"dev"`
	ArtifactsDir     string `mapstructure:"artifacts_dir"`
	DefinitionURL    string `mapstructure:"definition_url"`
	DefinitionHash   string `mapstructure:"definition_hash"`
	ProvingKeyURL    string `mapstructure:"proving_key_url"`
	ProvingKeyHash   string `mapstructure:"proving_key_hash"`
	VerifyingKeyURL  string `mapstructure:"verifying_key_url"`
	VerifyingKeyHash string `mapstructure:"verifying_key_hash"`
	MaxConcurrent    int    `mapstructure:"max_concurrent"`
}

// DefaultDataDir returns ~/.anonsignal, or a temporary directory if there is
// no home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "anonsignal")
	}
	return filepath.Join(home, ".anonsignal")
}

// SetDefaults sets the default value of every key, so all of them can be
// overridden from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 9090)
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("db_type", db.TypePebble)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_output", "stdout")
	v.SetDefault("admin_token", "")
	v.SetDefault("scope", "")
	v.SetDefault("external_nullifier", "")

	v.SetDefault("census.depth", types.CensusTreeDepth)
	v.SetDefault("census.root_history", types.DefaultRootHistorySize)
	v.SetDefault("census.source_url", "")
	v.SetDefault("census.source_interval", 30*time.Second)

	v.SetDefault("relay.confirmation_timeout", relay.DefaultConfirmationTimeout)
	v.SetDefault("relay.queue_interval", relay.DefaultQueueInterval)
	v.SetDefault("relay.retry_initial", relay.DefaultRetryInitial)
	v.SetDefault("relay.retry_max_interval", relay.DefaultRetryMaxInterval)
	v.SetDefault("relay.retry_max_attempts", relay.DefaultRetryMaxAttempts)

	v.SetDefault("nullifiers.backend", NullifiersArbo)
	v.SetDefault("nullifiers.redis_addr", "localhost:6379")
	v.SetDefault("nullifiers.redis_password", "")
	v.SetDefault("nullifiers.redis_db", 0)
	v.SetDefault("nullifiers.redis_prefix", "")

	v.SetDefault("ledger.backend", LedgerMemory)
	v.SetDefault("ledger.web3_rpcs", []string{})
	v.SetDefault("ledger.contract", "")
	v.SetDefault("ledger.privkey", "")
	v.SetDefault("ledger.poll_interval", 5*time.Second)

	v.SetDefault("circuit.dev", false)
	v.SetDefault("circuit.artifacts_dir", "")
	v.SetDefault("circuit.definition_url", "")
	v.SetDefault("circuit.definition_hash", "")
	v.SetDefault("circuit.proving_key_url", "")
	v.SetDefault("circuit.proving_key_hash", "")
	v.SetDefault("circuit.verifying_key_url", "")
	v.SetDefault("circuit.verifying_key_hash", "")
	v.SetDefault("circuit.max_concurrent", 0)
}

// Load reads the config file, if any, and the environment into v, and
// decodes the result. A missing config file is only an error when it was
// named explicitly.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("anonsignal")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Census.Depth <= 0 || c.Census.Depth > 32 {
		return fmt.Errorf("invalid census depth %d", c.Census.Depth)
	}
	if c.Census.RootHistory < 0 {
		return fmt.Errorf("invalid root history size %d", c.Census.RootHistory)
	}
	if c.Scope == "" && c.ExternalNullifier == "" {
		return fmt.Errorf("either scope or external_nullifier must be set")
	}
	switch c.Nullifiers.Backend {
	case NullifiersArbo, NullifiersRedis:
	default:
		return fmt.Errorf("unknown nullifiers backend %q", c.Nullifiers.Backend)
	}
	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerWeb3:
		if len(c.Ledger.Web3RPCs) == 0 || c.Ledger.Contract == "" || c.Ledger.PrivKey == "" {
			return fmt.Errorf("web3 ledger needs web3_rpcs, contract and privkey")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if _, err := c.ExternalNullifierValue(); err != nil {
		return err
	}
	return nil
}

// ExternalNullifierValue returns the external nullifier the relay binds
// proofs to.
func (c *Config) ExternalNullifierValue() (*big.Int, error) {
	if c.ExternalNullifier == "" {
		return crypto.ExternalNullifier(c.Scope), nil
	}
	n := &types.BigInt{}
	if err := n.UnmarshalText([]byte(c.ExternalNullifier)); err != nil {
		return nil, fmt.Errorf("invalid external nullifier: %w", err)
	}
	if n.MathBigInt().Sign() < 0 || n.MathBigInt().Cmp(crypto.FieldModulus) >= 0 {
		return nil, fmt.Errorf("external nullifier out of the field")
	}
	return n.MathBigInt(), nil
}

// RelayParams returns the relay parameters.
func (c *Config) RelayParams() (relay.Config, error) {
	ext, err := c.ExternalNullifierValue()
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		ExternalNullifier:   ext,
		ConfirmationTimeout: c.Relay.ConfirmationTimeout,
		QueueInterval:       c.Relay.QueueInterval,
		Retry: relay.RetryPolicy{
			InitialInterval: c.Relay.RetryInitial,
			MaxInterval:     c.Relay.RetryMaxInterval,
			MaxAttempts:     c.Relay.RetryMaxAttempts,
		},
	}, nil
}
