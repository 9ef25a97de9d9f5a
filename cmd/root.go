package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ryze",
	Short: "Retrieval-grounded UI generation service",
	Long: `Ryze turns a natural-language request into a validated UI plan or code
bundle. Each run retrieves reference documentation, drafts a plan, generates
structured output and checks it against a component guardrail, retrying with
the collected errors before giving up.

Available commands:
  serve     - Run the HTTP and websocket service
  generate  - Run one generation in-process
  watch     - Follow a project's live event stream
  status    - Show service readiness
  build     - Report build results or restart a project's circuit breaker
  log       - Show run history or the raw service log`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.ryze/config.yaml overlaid by ./.ryze/config.yaml)")
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if res := cfg.Validate(); !res.IsValid() {
		return nil, res.CombinedError()
	}
	return cfg, nil
}
