// Package cmd defines and implements the CLI commands for the statement-crawler executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/logging"
	"github.com/JakeFAU/statement-crawler/pkg/config"
)

// newRootCmd creates the root command. Configuration is loaded into v before
// any subcommand runs.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "statement-crawler",
		Short: "Crawls competitive programming judges for problem statements.",
		Long: `statement-crawler builds an image-and-text dataset of problem statements.
It lists problems from each supported judge, renders every statement in a
headless browser, and appends one record per problem to <output>/meta.jsonl.
Runs are resumable: problems already in the ledger are skipped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := config.InitConfig(v, cfgFile, logging.L); err != nil {
				return err
			}
			if err := logging.Init(v.GetBool("logging.development")); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml and $HOME/.statement-crawler)")
	cmd.AddCommand(newFetchCmd(v))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := logging.Init(true); err != nil {
		panic(err)
	}
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		logging.L.Fatal("command execution failed", zap.Error(err))
	}
}
