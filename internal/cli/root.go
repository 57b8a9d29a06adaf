package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agentsh/linkguard/internal/config"
	lglog "github.com/agentsh/linkguard/internal/log"
)

func NewRoot(version string) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "linkguard",
		Short:         "linkguard: check URLs against Safe Browsing threat lists",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return nil
			}
			// Variables already set in the environment win over the file.
			if err := godotenv.Load(opts.envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("linkguard {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config YAML (env LINKGUARD_CONFIG; defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Load environment variables from a .env file")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newListsCmd(opts))

	return cmd
}

type rootOptions struct {
	configPath string
	envFile    string
	jsonOut    bool
}

// load reads the configuration and builds a logger writing to stderr.
// LINKGUARD_CONFIG is consulted here, after any --env-file has been applied.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	path := o.configPath
	if path == "" {
		path = os.Getenv("LINKGUARD_CONFIG")
	}
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, lglog.New(cfg.Logging, cmd.ErrOrStderr()), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
