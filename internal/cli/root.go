// Package cli implements gordo command line interface
package cli

// cli module
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vkuznet/gordo-client/internal/config"
	"github.com/vkuznet/gordo-client/pkg/logger"
)

// NewRootCommand returns gordo root command
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "gordo",
		Short:         "gordo model server tooling",
		Version:       fmt.Sprintf("%s go=%s", version, runtime.Version()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-file", "", "log file, rotated daily")
	flags.String("config", "", "configuration file, defaults to gordo.yaml when present")

	root.AddCommand(newClientCommand())
	return root
}

// Execute runs gordo root command with given arguments
func Execute(version string, args []string) error {
	root := NewRootCommand(version)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		root.PrintErrln("Error:", err)
	}
	return err
}

// helper function to resolve configuration and logger of the command
func setup(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewWithFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
