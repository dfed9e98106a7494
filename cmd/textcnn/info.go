package main

import (
	"fmt"
	"strings"

	"github.com/jnb666/textcnn/num"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the processor details and the default number of worker threads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu := num.CPUInfo()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "CPU:      %s\n", cpu.Brand)
		fmt.Fprintf(w, "cores:    %d physical, %d logical\n", cpu.Physical, cpu.Logical)
		fmt.Fprintf(w, "features: %s\n", strings.Join(cpu.Features, " "))
		fmt.Fprintf(w, "threads:  %d\n", num.NewDevice().NewQueue(0).Threads())
		return nil
	},
}
