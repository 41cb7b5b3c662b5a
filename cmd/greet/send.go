package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vocdoni/anonsignal/api/client"
	"github.com/vocdoni/anonsignal/config"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/member"
	"github.com/vocdoni/anonsignal/prover"
	"github.com/vocdoni/anonsignal/service"
	"github.com/vocdoni/anonsignal/types"
)

const artifactsTimeout = 10 * time.Minute

func newSendCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <signal>",
		Short: "Prove membership and send a signal",
		Long: `Fetch the membership list from the relay, prove that the identity is
part of it and send the signal. The command returns once the relay confirms
the signal was recorded by the ledger.

The proving key is read from the circuit.* settings (see relay setup), e.g.
ANONSIGNAL_CIRCUIT_PROVING_KEY_HASH.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			signal := args[0]
			if _, err := types.EncodeSignal(signal); err != nil {
				return err
			}
			id, err := loadIdentity(v)
			if err != nil {
				return err
			}

			if v.GetString("scope") == "" {
				return fmt.Errorf("--scope is required")
			}
			circuit := &config.CircuitConfig{
				ArtifactsDir:     v.GetString("circuit.artifacts_dir"),
				DefinitionURL:    v.GetString("circuit.definition_url"),
				DefinitionHash:   v.GetString("circuit.definition_hash"),
				ProvingKeyURL:    v.GetString("circuit.proving_key_url"),
				ProvingKeyHash:   v.GetString("circuit.proving_key_hash"),
				VerifyingKeyURL:  v.GetString("circuit.verifying_key_url"),
				VerifyingKeyHash: v.GetString("circuit.verifying_key_hash"),
			}
			artifacts, err := circuit.Artifacts(true)
			if err != nil {
				return err
			}
			if err := service.LoadArtifacts(artifactsTimeout, artifacts); err != nil {
				return fmt.Errorf("load circuit artifacts: %w", err)
			}
			backend, err := prover.LoadGroth16(ctx, artifacts, v.GetInt("depth"))
			if err != nil {
				return err
			}
			gen, err := prover.NewGenerator(backend, 1)
			if err != nil {
				return err
			}

			cli, err := client.New(v.GetString("relay_url"))
			if err != nil {
				return fmt.Errorf("connect to relay: %w", err)
			}
			m, err := member.New(id, cli, gen, crypto.ExternalNullifier(v.GetString("scope")))
			if err != nil {
				return err
			}
			handle, err := m.Greet(ctx, signal)
			if err != nil {
				return fmt.Errorf("%s: %w", types.KindOf(err), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%q confirmed, tx %s\n", handle.Signal, handle.TxRef)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("scope", "", "scope of the signal, as configured in the relay")
	f.Int("depth", types.CensusTreeDepth, "membership tree depth")
	_ = v.BindPFlag("scope", f.Lookup("scope"))
	_ = v.BindPFlag("depth", f.Lookup("depth"))
	return cmd
}
