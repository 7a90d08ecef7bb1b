// Package cmd implements the stackvm command-line surface: the thin shell
// around the lowerer and VM that a real deployment's lexer/parser/semantic
// analyzer pipeline would hand a resolved program to (spec.md's "CLI
// surface" collaborator). That pipeline is out of scope here, so "run"
// accepts the name of one of the bundled example programs in place of a
// source-file path.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stackvm/vm"
)

var rootCmd = &cobra.Command{
	Use:   "stackvm",
	Short: "Lower, execute and inspect stackvm bytecode modules",
}

// Execute runs the root command, exiting the process with a nonzero
// status on any command error (spec.md §6 "CLI surface": exit 0 on
// SUCCESS, nonzero otherwise).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug-level logging")
	rootCmd.AddCommand(runCmd)
}

// configureLogger installs a development zap logger when verbose is set,
// leaving the package default (silent) logger otherwise.
func configureLogger(verbose bool) {
	if !verbose {
		return
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return
	}
	vm.SetLogger(l)
}
