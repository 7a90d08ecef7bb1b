package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stackvm/examples"
	"stackvm/jit"
	"stackvm/vm"
)

var (
	runDebug         bool
	runJITThreshold  int
	runStackCapacity int
)

var runCmd = &cobra.Command{
	Use:   "run <example-name>",
	Short: "Lower an example program and execute it on the stack VM",
	Long: fmt.Sprintf("Lower an example program and execute it on the stack VM.\n\nAvailable examples: %s",
		strings.Join(examples.Names, ", ")),
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "enter single-step debug mode")
	runCmd.Flags().IntVar(&runJITThreshold, "jit", 0, "call-count threshold before a function is considered hot (0 disables the JIT hook)")
	runCmd.Flags().IntVar(&runStackCapacity, "stack-capacity", 0, "initial operand stack capacity (0 uses the VM default)")
}

func runRun(c *cobra.Command, args []string) error {
	verbose, _ := c.Flags().GetBool("verbose")
	configureLogger(verbose)

	prog, ok := examples.Build(args[0])
	if !ok {
		return fmt.Errorf("unknown example %q (available: %s)", args[0], strings.Join(examples.Names, ", "))
	}

	mod, err := vm.Lower(prog)
	if err != nil {
		return fmt.Errorf("lowering failed: %w", err)
	}

	var opts []vm.Option
	if runStackCapacity > 0 {
		opts = append(opts, vm.WithOperandStackCapacity(runStackCapacity))
	}
	if runJITThreshold > 0 {
		opts = append(opts, vm.WithJIT(jit.NewCallCounter(runJITThreshold)))
	}

	machine := vm.NewVM(mod, opts...)

	var result vm.Result
	if runDebug {
		result, err = machine.RunDebug(os.Stdin, os.Stdout)
	} else {
		result, err = machine.Run()
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		c.SilenceUsage = true
		return fmt.Errorf("run failed: %s", result)
	}
	return nil
}
