package main

import (
	"fmt"
	"path/filepath"

	"github.com/jnb666/textcnn/summary"
	"github.com/spf13/cobra"
)

var plotOpts struct {
	runDir string
	outDir string
	width  int
	height int
}

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Plot the train and dev loss and accuracy for a run as SVG files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir := plotOpts.outDir
		if outDir == "" {
			outDir = filepath.Join(plotOpts.runDir, "plots")
		}
		files, err := summary.Plot(plotOpts.runDir, outDir, plotOpts.width, plotOpts.height)
		for _, file := range files {
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", file)
		}
		return err
	},
}

func init() {
	flags := plotCmd.Flags()
	flags.StringVar(&plotOpts.runDir, "run", "", "run directory")
	flags.StringVarP(&plotOpts.outDir, "out", "o", "", "output directory, defaults to plots in the run directory")
	flags.IntVar(&plotOpts.width, "width", 800, "plot width in pixels")
	flags.IntVar(&plotOpts.height, "height", 500, "plot height in pixels")
	plotCmd.MarkFlagRequired("run")
}
