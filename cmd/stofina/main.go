// Command stofina is the terminal client for the Stofina realtime trading back office.
package main

import (
	"fmt"
	"os"

	"stofina-realtime/internal/cli"
	"stofina-realtime/internal/config"
	"stofina-realtime/internal/logging"
)

func main() {
	logCfg := logging.DefaultLogConfig()

	// A broken default config is reported by the root command, which loads it again
	// after --config is parsed.
	cfg, err := config.Load("")
	if err == nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Console = cfg.Log.Console
		logCfg.File = cfg.Log.File
	} else {
		cfg = nil
	}
	logger := logging.NewLoggerWithConfig(logCfg)

	if err := cli.NewRootCmd(cfg, logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
