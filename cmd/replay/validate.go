package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbd888/callwatch/internal/replay"
)

var validateCmd = &cobra.Command{
	Use:   "validate <transcript>...",
	Short: "Check transcript files without replaying them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		failed := 0
		for _, path := range args {
			call, err := replay.LoadFile(path)
			if err != nil {
				failed++
				fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(out, "ok   %s: call %s, %d turns\n", path, call.CallID, len(call.Transcript))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d transcripts invalid", failed, len(args))
		}
		return nil
	},
}
