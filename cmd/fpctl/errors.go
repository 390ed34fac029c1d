package main

import (
	"sort"

	"github.com/spf13/cobra"

	"fpagent/pkg/fingerprint"
)

func newErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors",
		Short: "List the error messages returned by the identification API",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			m := fingerprint.Messages()
			names := make([]string, 0, len(m))
			for k := range m {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				cmd.Printf("%-30s %s\n", k, m[k])
			}
		},
	}
}
