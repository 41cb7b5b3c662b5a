package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vocdoni/anonsignal/circuits"
	"github.com/vocdoni/anonsignal/prover"
	"github.com/vocdoni/anonsignal/types"
	"github.com/vocdoni/anonsignal/util"
)

func newSetupCmd() *cobra.Command {
	var (
		depth  int
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the signal circuit and generate its keys",
		Long: `Compile the signal circuit for a membership tree depth, run a Groth16
setup and write the constraint system, proving key and verifying key to the
output directory, named by their sha256 hash. The printed hashes are the
values of the circuit.*_hash settings.

The setup is not a ceremony: whoever runs it can forge proofs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := prover.SetupGroth16(depth)
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			ccs, pk, vk, err := backend.Export()
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if outDir != "" {
				circuits.BaseDir = outDir
			}
			for _, a := range []struct {
				name    string
				content []byte
			}{
				{"definition", ccs},
				{"proving_key", pk},
				{"verifying_key", vk},
			} {
				artifact, err := circuits.Store(a.content)
				if err != nil {
					return fmt.Errorf("store %s: %w", a.name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s_hash: %q # %s\n", a.name,
					artifact.Hash.String(), filepath.Join(circuits.BaseDir, util.TrimHex(artifact.Hash.String())))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&depth, "depth", types.CensusTreeDepth, "membership tree depth")
	f.StringVar(&outDir, "out", "", "output directory (default: the artifacts cache)")
	cmd.SetErr(os.Stderr)
	return cmd
}
