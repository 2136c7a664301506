// Command relayctl lists the suggestion features and calls the relay from a
// terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pawpal-relay/internal/config"
)

// globalFlags override values loaded from the environment.
type globalFlags struct {
	endpoint     string
	token        string
	featuresFile string
	logLevel     string
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(config.LoadClient).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(load func() (config.Client, error)) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Pet-chat suggestion relay client",
		Long: `relayctl talks to the suggestion relay the same way the apps do.

Available subcommands:
  features - List the suggestion features
  suggest  - Ask the relay for suggestions`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.endpoint, "endpoint", "", "relay endpoint URL (default $RELAY_ENDPOINT)")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "relay bearer token (default $RELAY_TOKEN)")
	root.PersistentFlags().StringVar(&flags.featuresFile, "features-file", "", "features YAML (default $FEATURES_FILE or built-in)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (default $LOG_LEVEL)")

	resolve := func() (config.Client, error) {
		cfg, err := load()
		if err != nil {
			return config.Client{}, err
		}
		if flags.endpoint != "" {
			cfg.Endpoint = flags.endpoint
		}
		if flags.token != "" {
			cfg.Token = flags.token
		}
		if flags.featuresFile != "" {
			cfg.FeaturesFile = flags.featuresFile
		}
		if flags.logLevel != "" {
			cfg.LogLevel = flags.logLevel
		}
		return cfg, nil
	}

	root.AddCommand(newFeaturesCmd(resolve), newSuggestCmd(resolve))
	return root
}
