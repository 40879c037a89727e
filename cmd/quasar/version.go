package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/quasar/internal/version"
)

func newVersionCmd() *cobra.Command {
	var dirty, long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			build := version.Read()
			if !dirty {
				build.Version = build.Clean()
			}
			line := build.Module + " " + build.Version
			if long {
				line = build.String()
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		},
	}
	cmd.Flags().BoolVar(&dirty, "dirty", false, "include the dirty suffix of modified builds")
	cmd.Flags().BoolVar(&long, "long", false, "also print the vcs revision and go toolchain")
	return cmd
}
