package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vocdoni/anonsignal/config"
	"github.com/vocdoni/anonsignal/crypto/ethereum"
	"github.com/vocdoni/anonsignal/identity"
	"go.vocdoni.io/dvote/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "greet",
		Short: "Send anonymous signals to a relay",
		Long: `Send anonymous signals to a relay as a member of its group.

The identity is derived from a seed or from an Ethereum private key; the
same input always yields the same identity.

Commands:
  greet identity [--new]   Print (or generate) the identity commitment
  greet register           Register the identity commitment in the relay
  greet send <signal>      Prove membership and send a signal`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Init(v.GetString("log_level"), "stderr", nil)
		},
	}

	f := rootCmd.PersistentFlags()
	f.String("relay", "http://localhost:9090", "relay API URL")
	f.String("seed", "", "identity seed")
	f.String("privkey", "", "hex Ethereum private key the identity is derived from")
	f.String("log-level", "error", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("relay_url", f.Lookup("relay"))
	_ = v.BindPFlag("seed", f.Lookup("seed"))
	_ = v.BindPFlag("privkey", f.Lookup("privkey"))
	_ = v.BindPFlag("log_level", f.Lookup("log-level"))

	rootCmd.AddCommand(newIdentityCmd(v))
	rootCmd.AddCommand(newRegisterCmd(v))
	rootCmd.AddCommand(newSendCmd(v))
	return rootCmd.ExecuteContext(context.Background())
}

// loadIdentity derives the identity from the seed or the private key.
func loadIdentity(v *viper.Viper) (*identity.Identity, error) {
	seed, privKey := v.GetString("seed"), v.GetString("privkey")
	switch {
	case seed != "" && privKey != "":
		return nil, fmt.Errorf("use either --seed or --privkey, not both")
	case seed != "":
		return identity.Derive([]byte(seed))
	case privKey != "":
		keys := ethereum.NewSignKeys()
		if err := keys.AddHexKey(privKey); err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		return identity.DeriveFromKey(keys)
	default:
		return nil, fmt.Errorf("an identity --seed or --privkey is required")
	}
}
