package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"guest-inbox/internal/identity"
)

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <raw>...",
		Short: "Print canonical sender identifiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			invalid := 0
			for _, raw := range args {
				n := identity.Normalize(raw)
				if !identity.Valid(n) {
					invalid++
					fmt.Fprintf(out, "%s\tinvalid\n", raw)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", raw, n)
			}
			if invalid > 0 {
				return fmt.Errorf("%d invalid identifier(s)", invalid)
			}
			return nil
		},
	}
}
