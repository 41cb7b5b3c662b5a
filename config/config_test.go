package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/spf13/viper"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/types"
)

func TestLoadDefaults(t *testing.T) {
	c := qt.New(t)
	t.Setenv("ANONSIGNAL_SCOPE", "round-1")
	t.Setenv("ANONSIGNAL_CENSUS_DEPTH", "16")
	t.Setenv("ANONSIGNAL_RELAY_CONFIRMATION_TIMEOUT", "90s")

	cfg, err := Load(viper.New(), "")
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Port, qt.Equals, 9090)
	c.Assert(cfg.Census.Depth, qt.Equals, 16)
	c.Assert(cfg.Census.RootHistory, qt.Equals, types.DefaultRootHistorySize)
	c.Assert(cfg.Relay.ConfirmationTimeout, qt.Equals, 90*time.Second)
	c.Assert(cfg.Nullifiers.Backend, qt.Equals, NullifiersArbo)

	params, err := cfg.RelayParams()
	c.Assert(err, qt.IsNil)
	c.Assert(params.ExternalNullifier.Cmp(crypto.ExternalNullifier("round-1")), qt.Equals, 0)
	c.Assert(params.Retry.MaxAttempts, qt.Equals, 5)
}

func TestLoadFile(t *testing.T) {
	c := qt.New(t)
	file := filepath.Join(t.TempDir(), "relay.yaml")
	c.Assert(os.WriteFile(file, []byte(`
external_nullifier: "0x2a"
ledger:
  backend: web3
  web3_rpcs: ["http://localhost:8545"]
  contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  privkey: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
nullifiers:
  backend: redis
  redis_addr: "redis:6379"
`), 0o600), qt.IsNil)

	cfg, err := Load(viper.New(), file)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Ledger.Backend, qt.Equals, LedgerWeb3)
	c.Assert(cfg.Ledger.Web3RPCs, qt.DeepEquals, []string{"http://localhost:8545"})
	c.Assert(cfg.Nullifiers.RedisAddr, qt.Equals, "redis:6379")
	ext, err := cfg.ExternalNullifierValue()
	c.Assert(err, qt.IsNil)
	c.Assert(ext.Int64(), qt.Equals, int64(42))

	_, err = Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	c.Assert(err, qt.ErrorMatches, "read config.*")
}

func TestValidate(t *testing.T) {
	c := qt.New(t)
	cfg := &Config{
		Scope:      "round-1",
		Census:     CensusConfig{Depth: 20},
		Nullifiers: NullifiersConfig{Backend: NullifiersArbo},
		Ledger:     LedgerConfig{Backend: LedgerMemory},
	}
	c.Assert(cfg.Validate(), qt.IsNil)

	cfg.Ledger.Backend = LedgerWeb3
	c.Assert(cfg.Validate(), qt.ErrorMatches, "web3 ledger needs.*")
	cfg.Ledger.Backend = "paper"
	c.Assert(cfg.Validate(), qt.ErrorMatches, `unknown ledger backend "paper"`)
	cfg.Ledger.Backend = LedgerMemory

	cfg.Scope = ""
	c.Assert(cfg.Validate(), qt.ErrorMatches, "either scope or external_nullifier must be set")
	cfg.ExternalNullifier = crypto.FieldModulus.String()
	c.Assert(cfg.Validate(), qt.ErrorMatches, "external nullifier out of the field")
}

func TestArtifacts(t *testing.T) {
	c := qt.New(t)
	hash := "0xab"
	cc := &CircuitConfig{ArtifactsDir: t.TempDir()}
	_, err := cc.Artifacts(false)
	c.Assert(err, qt.ErrorMatches, "circuit definition and verifying key hashes are required")

	cc.DefinitionHash = hash
	cc.VerifyingKeyHash = hash
	_, err = cc.Artifacts(false)
	c.Assert(err, qt.ErrorMatches, "circuit definition: invalid artifact hash length 1")

	full := "0x" + strings.Repeat("ab", 32)
	cc.DefinitionHash, cc.VerifyingKeyHash = full, full
	artifacts, err := cc.Artifacts(false)
	c.Assert(err, qt.IsNil)
	c.Assert(artifacts.ProvingKey(), qt.IsNil)
	_, err = cc.Artifacts(true)
	c.Assert(err, qt.ErrorMatches, "proving key hash is required")
}
