// Package main provides the diagnose CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"brand-diagnosis/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Brand diagnosis from AI model answers",
		Long: `diagnose turns raw model answers about a brand into score cards, share of
voice, risk, health and source attribution, locally or against a diagnosis server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetOutput(cmd.ErrOrStderr())
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	loadCfg := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(
		newRunCmd(loadCfg),
		newSubmitCmd(loadCfg),
		newWatchCmd(loadCfg),
	)
	return rootCmd
}
