package main

import (
	"github.com/spf13/cobra"
)

func newUpdateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Apply pending launcher and game updates without starting the game",
		Long: `update runs the same update steps as a normal launch and then exits.

Exit status is 0 when everything is current or was updated, 3 when an install
transaction failed and was rolled back, and 75 when the launcher updated itself
and launcher.restart is "exit".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSequence(cmd, root, runMode{headless: true, updateOnly: true})
		},
	}
}
