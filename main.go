package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "video-exploratorium",
		Short:         "Transcript analysis over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "f", "etc/config.yaml", "the config file")

	root.AddCommand(newServeCommand(&configFile))
	root.AddCommand(newSegmentCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
