// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/someonegg/msgchat/config"
	"github.com/someonegg/msgchat/observability"
)

var rootCmd = &cobra.Command{
	Use:   "msgchat",
	Short: "Instant messenger, one peer at a time.",
	Long: `msgchat serves one chat peer at a time.

The server waits for someone to connect, echoes every message it
receives, sends what you type, and goes back to waiting when the
peer says "CLIENT - END" or hangs up.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to YAML config file")
	pf.String("host", "", "Listen host (serve) or server host (client)")
	pf.Int("port", 0, "TCP port (default 6789)")
	pf.String("transport", "", "tcp or websocket")
	pf.String("framing", "", "length or line")
	pf.String("log-level", "", "debug, info, warn or error")

	serveCmd.Flags().Int("backlog", 0, "Connections allowed to wait (default 100)")
	serveCmd.Flags().String("dump", "", "Dump every message to this file")

	rootCmd.AddCommand(serveCmd, clientCmd)
}

// loadConfig reads the config file and applies the command line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Listen.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Listen.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("transport") {
		cfg.Listen.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("framing") {
		cfg.Protocol.Framing, _ = flags.GetString("framing")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Lookup("backlog") != nil && flags.Changed("backlog") {
		cfg.Listen.Backlog, _ = flags.GetInt("backlog")
	}
	if flags.Lookup("dump") != nil && flags.Changed("dump") {
		cfg.Debug.Dump, _ = flags.GetString("dump")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
