// Command hostbridge loads core WebAssembly modules, inspects them and calls
// their exports, including buffer exchanges through guest memory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/runtime"
)

type globalOptions struct {
	logger    *zap.Logger
	logLevel  string
	logFormat string
	logFile   string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "hostbridge",
		Short:         "Run WebAssembly guests and exchange data through their memory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logConfig{
				Level:  g.logLevel,
				Format: g.logFormat,
				File:   g.logFile,
			})
			if err != nil {
				return err
			}
			g.setLogger(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = g.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "console", "log format: console|json")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "write logs to this file (rotated) instead of stderr")

	root.AddCommand(
		newInspectCmd(g),
		newCallCmd(g),
		newTUICmd(g),
		newDemoCmd(g),
		newSchemaCmd(),
	)
	return root
}

func (g *globalOptions) setLogger(l *zap.Logger) {
	g.logger = l
	engine.SetLogger(l)
	runtime.SetLogger(l)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
