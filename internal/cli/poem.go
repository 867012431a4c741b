package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	poemCmd := &cobra.Command{
		Use:   "poem",
		Short: "Create and manage poems",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Submit a poem",
		Run:   runPoemCreate,
	}
	create.Flags().StringP("content", "c", "", "Poem text")
	create.Flags().StringP("file", "f", "", "Read poem text from file (- for stdin)")
	create.Flags().String("title", "", "Title (default: first line)")

	show := &cobra.Command{
		Use:   "show POEM_ID",
		Short: "Show a poem",
		Args:  cobra.ExactArgs(1),
		Run:   runPoemShow,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your poems",
		Run:   runPoemList,
	}
	list.Flags().Bool("shared", false, "List poems shared with you instead")

	rename := &cobra.Command{
		Use:   "rename POEM_ID TITLE",
		Short: "Rename a poem you own",
		Args:  cobra.ExactArgs(2),
		Run:   runPoemRename,
	}

	rm := &cobra.Command{
		Use:   "rm POEM_ID",
		Short: "Delete a poem you own and all its annotations",
		Args:  cobra.ExactArgs(1),
		Run:   runPoemRm,
	}

	poemCmd.AddCommand(create, show, list, rename, rm)
	RootCmd.AddCommand(poemCmd)
}

func runPoemCreate(cmd *cobra.Command, args []string) {
	content, _ := cmd.Flags().GetString("content")
	file, _ := cmd.Flags().GetString("file")
	title, _ := cmd.Flags().GetString("title")

	if file != "" {
		var (
			b   []byte
			err error
		)
		if file == "-" {
			b, err = io.ReadAll(cmd.InOrStdin())
		} else {
			b, err = os.ReadFile(file)
		}
		if err != nil {
			exitErr("read poem", err)
		}
		content = string(b)
	}
	if content == "" {
		exitErr("poem create", fmt.Errorf("--content or --file is required"))
	}

	poem, err := newClient().CreatePoem(cmd.Context(), content, title)
	if err != nil {
		exitErr("poem create", err)
	}
	printJSON(cmd, poem)
}

func runPoemShow(cmd *cobra.Command, args []string) {
	poem, err := newClient().GetPoem(cmd.Context(), args[0])
	if err != nil {
		exitErr("poem show", err)
	}
	printJSON(cmd, poem)
}

func runPoemList(cmd *cobra.Command, args []string) {
	shared, _ := cmd.Flags().GetBool("shared")
	c := newClient()
	if shared {
		poems, err := c.ListSharedWithMe(cmd.Context())
		if err != nil {
			exitErr("poem list", err)
		}
		printJSON(cmd, poems)
		return
	}
	poems, err := c.ListMyPoems(cmd.Context())
	if err != nil {
		exitErr("poem list", err)
	}
	printJSON(cmd, poems)
}

func runPoemRename(cmd *cobra.Command, args []string) {
	poem, err := newClient().RenamePoem(cmd.Context(), args[0], args[1])
	if err != nil {
		exitErr("poem rename", err)
	}
	printJSON(cmd, poem)
}

func runPoemRm(cmd *cobra.Command, args []string) {
	if err := newClient().DeletePoem(cmd.Context(), args[0]); err != nil {
		exitErr("poem rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}
