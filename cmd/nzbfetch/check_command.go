package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Connect and authenticate to every configured server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := ctx.newApp()
			if err != nil {
				return err
			}
			defer appCtx.Close()

			if err := appCtx.OpenNNTP(); err != nil {
				return err
			}

			checkCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			checkErr := appCtx.NNTP.Check(checkCtx)
			fmt.Fprintln(cmd.OutOrStdout(), renderPoolStats(appCtx.NNTP.Stats()))
			if checkErr != nil {
				return checkErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All servers reachable")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}
