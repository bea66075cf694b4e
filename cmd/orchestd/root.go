package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"orchestd/internal/config"
	"orchestd/internal/engine"
)

// app carries state shared by subcommands.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{configPath: os.Getenv(config.EnvPrefix + "CONFIG")}
	root := &cobra.Command{
		Use:           "orchestd",
		Short:         "On-device inference orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", a.configPath, "Config file (.yaml, .json or .toml; defaults ORCHESTD_CONFIG)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: json|console (overrides config)")

	root.AddCommand(
		newServeCmd(a),
		newRunnersCmd(a),
		newModelsCmd(a),
		newInferCmd(a),
		newConfigCmd(a),
		newCompletionCmd(root),
	)
	return root
}

// load resolves the configuration and root logger. quiet lowers the default
// level for one-shot commands so logs do not drown their output.
func (a *app) load(cmd *cobra.Command, quiet bool) error {
	cfg, err := config.Resolve(a.configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if quiet {
		level = "warn"
	}
	if a.logLevel != "" {
		level = a.logLevel
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	a.cfg = cfg
	a.log = newLogger(cmd.ErrOrStderr(), level, cfg.LogFormat)
	return nil
}

// withEngine runs fn against an in-process engine and closes it afterwards.
func (a *app) withEngine(cmd *cobra.Command, fn func(*engine.Engine) error) (err error) {
	if err := a.load(cmd, true); err != nil {
		return err
	}
	e, err := engine.New(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(cmd.Context()); err == nil {
			err = cerr
		}
	}()
	return fn(e)
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cmd.OutOrStdout(), true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
	}})
	return completionCmd
}
