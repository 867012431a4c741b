package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	share := &cobra.Command{
		Use:   "share POEM_ID",
		Short: "Get a share link for a poem you own",
		Args:  cobra.ExactArgs(1),
		Run:   runShare,
	}
	share.Flags().StringP("mode", "m", "readonly", "Link mode: readonly or editable")

	open := &cobra.Command{
		Use:   "open-share SHARE_ID",
		Short: "Open a share link; when logged in, join the poem as a collaborator",
		Args:  cobra.ExactArgs(1),
		Run:   runOpenShare,
	}

	RootCmd.AddCommand(share, open)
}

func runShare(cmd *cobra.Command, args []string) {
	mode, _ := cmd.Flags().GetString("mode")
	result, err := newClient().CreateShare(cmd.Context(), args[0], mode)
	if err != nil {
		exitErr("share", err)
	}
	printJSON(cmd, result)
}

func runOpenShare(cmd *cobra.Command, args []string) {
	view, err := newClient().OpenShare(cmd.Context(), args[0])
	if err != nil {
		exitErr("open-share", err)
	}
	printJSON(cmd, view)
}
