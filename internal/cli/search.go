package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Full-text search over your poems and their annotations",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}
	cmd.Flags().String("type", "", "Restrict to poem or annotation")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")

	resp, err := newClient().Search(cmd.Context(), strings.Join(args, " "), kind, limit)
	if err != nil {
		exitErr("search", err)
	}
	printJSON(cmd, resp)
}
