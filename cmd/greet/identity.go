package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vocdoni/anonsignal/api/client"
	"github.com/vocdoni/anonsignal/identity"
	"github.com/vocdoni/anonsignal/types"
	"github.com/vocdoni/anonsignal/util"
)

func newIdentityCmd(v *viper.Viper) *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the identity commitment",
		Long: `Print the identity commitment. With --new a random seed is generated
and printed along with its commitment; keep the seed, it is the identity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if generate {
				seed := util.RandomHex(32)
				id, err := identity.Derive([]byte(seed))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seed: %s\ncommitment: %s\n", seed, id.Commitment())
				return nil
			}
			id, err := loadIdentity(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.Commitment().String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "new", false, "generate a new random identity")
	return cmd
}

func newRegisterCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the identity commitment in the relay membership set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity(v)
			if err != nil {
				return err
			}
			cli, err := client.New(v.GetString("relay_url"))
			if err != nil {
				return fmt.Errorf("connect to relay: %w", err)
			}
			cli.SetAdminToken(v.GetString("admin_token"))
			root, err := cli.AddCommitments(cmd.Context(), types.BigIntFrom(id.Commitment()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered, group size %d, root %s\n", root.Size, root.Root)
			return nil
		},
	}
	cmd.Flags().String("admin-token", "", "relay admin token")
	_ = v.BindPFlag("admin_token", cmd.Flags().Lookup("admin-token"))
	return cmd
}
