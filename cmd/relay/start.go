package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vocdoni/anonsignal/config"
	"github.com/vocdoni/anonsignal/ledger"
	"github.com/vocdoni/anonsignal/prover"
	"github.com/vocdoni/anonsignal/relay"
	"github.com/vocdoni/anonsignal/service"
	"github.com/vocdoni/anonsignal/storage"
	"github.com/vocdoni/anonsignal/storage/census"
	"github.com/vocdoni/anonsignal/storage/db/metadb"
	"github.com/vocdoni/anonsignal/storage/nullifiers"
	"github.com/vocdoni/anonsignal/web3"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/log"
)

const artifactsTimeout = 10 * time.Minute

func newStartCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the relay",
		Long: `Run the relay API, the forwarder of accepted signals and, if a source
URL is configured, the membership list monitor.

Every setting can also be given as an ANONSIGNAL_ environment variable
(e.g. ANONSIGNAL_LEDGER_BACKEND) or in a yaml config file.

Examples:
  relay start --scope round-1 --circuit-dev
  relay start --config /etc/anonsignal/relay.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log.Init(cfg.LogLevel, cfg.LogOutput, nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path")
	f.String("host", "", "API listen host")
	f.Int("port", 0, "API listen port")
	f.String("data-dir", "", "data directory (default ~/.anonsignal)")
	f.String("db-type", "", "database type (pebble, memory)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("admin-token", "", "bearer token required to register commitments")
	f.String("scope", "", "scope the external nullifier is derived from")
	f.String("external-nullifier", "", "explicit external nullifier, overrides scope")
	f.Int("census-depth", 0, "membership tree depth")
	f.String("census-source", "", "URL of a JSON membership list to follow")
	f.String("nullifiers", "", "nullifier registry backend (arbo, redis)")
	f.String("redis-addr", "", "redis address for the redis nullifier registry")
	f.String("ledger", "", "ledger backend (memory, web3)")
	f.StringSlice("web3-rpc", nil, "web3 rpc endpoints")
	f.String("contract", "", "Greeters contract address")
	f.String("privkey", "", "hex private key of the relay account")
	f.Bool("circuit-dev", false, "generate the circuit keys at start up (testing only)")

	for key, flag := range map[string]string{
		"host":                  "host",
		"port":                  "port",
		"data_dir":              "data-dir",
		"db_type":               "db-type",
		"log_level":             "log-level",
		"admin_token":           "admin-token",
		"scope":                 "scope",
		"external_nullifier":    "external-nullifier",
		"census.depth":          "census-depth",
		"census.source_url":     "census-source",
		"nullifiers.backend":    "nullifiers",
		"nullifiers.redis_addr": "redis-addr",
		"ledger.backend":        "ledger",
		"ledger.web3_rpcs":      "web3-rpc",
		"ledger.contract":       "contract",
		"ledger.privkey":        "privkey",
		"circuit.dev":           "circuit-dev",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

// runRelay wires the relay components and runs them until ctx is done.
func runRelay(ctx context.Context, cfg *config.Config) error {
	database, err := openDB(cfg, "db")
	if err != nil {
		return err
	}
	stg := storage.New(database)
	defer stg.Close()

	cdb, err := census.NewCensusDB(stg, cfg.Census.Depth, cfg.Census.RootHistory)
	if err != nil {
		return fmt.Errorf("membership set: %w", err)
	}

	registry, closeRegistry, err := openNullifiers(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	backend, err := loadBackend(ctx, cfg)
	if err != nil {
		return err
	}

	l, closeLedger, err := openLedger(cfg, backend)
	if err != nil {
		return err
	}
	defer closeLedger()

	params, err := cfg.RelayParams()
	if err != nil {
		return err
	}
	r, err := relay.New(params, stg, cdb, backend, registry, l)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	relaySrv := service.NewRelay(r)
	if err := relaySrv.Start(ctx); err != nil {
		return err
	}
	defer relaySrv.Stop()

	apiSrv := service.NewAPI(r, cdb, cfg.Host, cfg.Port, cfg.AdminToken)
	if err := apiSrv.Start(ctx); err != nil {
		return err
	}
	defer apiSrv.Stop()

	if cfg.Census.SourceURL != "" {
		monitor := service.NewCensusMonitor(&service.HTTPCommitmentsSource{URL: cfg.Census.SourceURL},
			cdb, cfg.Census.SourceInterval)
		if err := monitor.Start(ctx); err != nil {
			return err
		}
		defer monitor.Stop()
	}

	log.Infow("relay ready",
		"host", cfg.Host,
		"port", cfg.Port,
		"externalNullifier", params.ExternalNullifier.String(),
		"root", cdb.Root().String(),
		"members", cdb.Size(),
		"ledger", cfg.Ledger.Backend,
		"nullifiers", cfg.Nullifiers.Backend)
	<-ctx.Done()
	log.Infow("shutting down")
	return nil
}

func openDB(cfg *config.Config, name string) (db.Database, error) {
	database, err := metadb.New(cfg.DBType, filepath.Join(cfg.DataDir, name))
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", name, err)
	}
	return database, nil
}

func openNullifiers(ctx context.Context, cfg *config.Config) (nullifiers.Registry, func(), error) {
	switch cfg.Nullifiers.Backend {
	case config.NullifiersRedis:
		r, err := nullifiers.NewRedisRegistry(ctx, nullifiers.RedisOptions{
			Addr:     cfg.Nullifiers.RedisAddr,
			Password: cfg.Nullifiers.RedisPassword,
			DB:       cfg.Nullifiers.RedisDB,
			Prefix:   cfg.Nullifiers.RedisPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("nullifier registry: %w", err)
		}
		return r, func() {
			if err := r.Close(); err != nil {
				log.Warnw("failed to close redis", "error", err.Error())
			}
		}, nil
	default:
		database, err := openDB(cfg, "nullifiers")
		if err != nil {
			return nil, nil, err
		}
		r, err := nullifiers.NewArboRegistry(database)
		if err != nil {
			return nil, nil, fmt.Errorf("nullifier registry: %w", err)
		}
		return r, func() {
			if err := database.Close(); err != nil {
				log.Warnw("failed to close nullifiers database", "error", err.Error())
			}
		}, nil
	}
}

func loadBackend(ctx context.Context, cfg *config.Config) (*prover.Groth16, error) {
	if cfg.Circuit.Dev {
		log.Warnw("generating circuit keys, proofs made by other parties will not verify",
			"depth", cfg.Census.Depth)
		return prover.SetupGroth16(cfg.Census.Depth)
	}
	artifacts, err := cfg.Circuit.Artifacts(false)
	if err != nil {
		return nil, err
	}
	if err := service.LoadArtifacts(artifactsTimeout, artifacts); err != nil {
		return nil, fmt.Errorf("load circuit artifacts: %w", err)
	}
	return prover.LoadGroth16(ctx, artifacts, cfg.Census.Depth)
}

func openLedger(cfg *config.Config, verifier prover.Verifier) (ledger.Ledger, func(), error) {
	if cfg.Ledger.Backend != config.LedgerWeb3 {
		m := ledger.NewMemory(verifier, 0)
		return m, m.Close, nil
	}
	if !common.IsHexAddress(cfg.Ledger.Contract) {
		return nil, nil, fmt.Errorf("invalid contract address %q", cfg.Ledger.Contract)
	}
	contracts, err := web3.NewContracts(common.HexToAddress(cfg.Ledger.Contract), cfg.Ledger.Web3RPCs[0])
	if err != nil {
		return nil, nil, fmt.Errorf("web3 ledger: %w", err)
	}
	for _, rpc := range cfg.Ledger.Web3RPCs[1:] {
		if err := contracts.AddWeb3Endpoint(rpc); err != nil {
			log.Warnw("failed to add endpoint", "rpc", rpc, "error", err.Error())
		}
	}
	if err := contracts.SetAccountPrivateKey(cfg.Ledger.PrivKey); err != nil {
		contracts.Close()
		return nil, nil, err
	}
	contracts.SetPollInterval(cfg.Ledger.PollInterval)
	log.Infow("web3 ledger ready", "chainId", contracts.ChainID, "account", contracts.AccountAddress().Hex())
	return contracts, contracts.Close, nil
}
