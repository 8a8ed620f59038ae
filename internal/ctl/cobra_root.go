package ctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "noshowctl",
		Short:         "Manage no-show model versions and running noshowd instances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.RegistryURI, "registry", cfg.RegistryURI, "Registry URI: path, file://, redis://, or MLflow http(s):// (defaults NOSHOWD_REGISTRY_URI or MLFLOW_TRACKING_URI)")
	pf.StringVar(&cfg.RegistryPrefix, "registry-prefix", cfg.RegistryPrefix, "Key prefix for the redis registry")
	pf.StringVar(&cfg.RegistryToken, "registry-token", cfg.RegistryToken, "Bearer token for the MLflow registry")
	pf.StringVarP(&cfg.ModelName, "model", "m", cfg.ModelName, "Registered model name (defaults MODEL_NAME)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	pf.BoolVar(&cfg.JSON, "json", cfg.JSON, "Print results as JSON")
	pf.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for registry and server calls")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if cfg.out == nil {
			cfg.out = cmd.OutOrStdout()
		}
		cfg.setupLogging()
	}

	root.AddCommand(
		versionsCmd(cfg),
		resolveCmd(cfg),
		registerCmd(cfg),
		promoteCmd(cfg),
		transitionCmd(cfg),
		reloadCmd(cfg),
	)

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	root.AddCommand(completionCmd)

	return root
}

func requireModel(cfg *Config) error {
	if cfg.ModelName == "" {
		return fmt.Errorf("model name is required (--model or MODEL_NAME)")
	}
	return nil
}
