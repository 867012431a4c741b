package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"poetate/api/pkg/domain"
)

func init() {
	annotateCmd := &cobra.Command{
		Use:   "annotate POEM_ID",
		Short: "Attach a note to words of a poem",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnnotate,
	}
	annotateCmd.Flags().String("text", "", "Note text (required)")
	annotateCmd.Flags().IntSliceP("anchors", "a", nil, "Word positions, zero-based (required)")
	annotateCmd.MarkFlagRequired("text")
	annotateCmd.MarkFlagRequired("anchors")

	edit := &cobra.Command{
		Use:   "edit POEM_ID ANNOTATION_ID",
		Short: "Change an annotation's text",
		Args:  cobra.ExactArgs(2),
		RunE:  runEdit,
	}
	edit.Flags().String("text", "", "New text (required)")
	edit.MarkFlagRequired("text")

	move := &cobra.Command{
		Use:   "move POEM_ID ANNOTATION_ID",
		Short: "Set an annotation's offset from its anchor",
		Args:  cobra.ExactArgs(2),
		RunE:  runMove,
	}
	move.Flags().Float64("dx", 0, "Horizontal offset")
	move.Flags().Float64("dy", 0, "Vertical offset")

	rm := &cobra.Command{
		Use:   "rm POEM_ID ANNOTATION_ID",
		Short: "Delete an annotation",
		Args:  cobra.ExactArgs(2),
		RunE:  runRm,
	}

	list := &cobra.Command{
		Use:   "list [POEM_ID]",
		Short: "List a poem's annotations, or your own with --mine",
		Args:  cobra.MaximumNArgs(1),
		Run:   runList,
	}
	list.Flags().Bool("mine", false, "List annotations you wrote across all poems")

	RootCmd.AddCommand(annotateCmd, edit, move, rm, list)
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	text, _ := cmd.Flags().GetString("text")
	anchors, _ := cmd.Flags().GetIntSlice("anchors")

	session, _, done, err := openSession(cmd.Context(), newClient(), args[0])
	if err != nil {
		return fmt.Errorf("open poem: %w", err)
	}
	defer done()

	created, err := session.Create(cmd.Context(), text, anchors)
	if err != nil {
		return fmt.Errorf("annotate: %w", err)
	}
	printAnnotation(cmd, created)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	text, _ := cmd.Flags().GetString("text")

	session, _, done, err := openSession(cmd.Context(), newClient(), args[0])
	if err != nil {
		return fmt.Errorf("open poem: %w", err)
	}
	defer done()

	updated, err := session.UpdateText(cmd.Context(), args[1], text)
	if err != nil {
		return fmt.Errorf("edit: %w", err)
	}
	printAnnotation(cmd, updated)
	return nil
}

func runMove(cmd *cobra.Command, args []string) error {
	dx, _ := cmd.Flags().GetFloat64("dx")
	dy, _ := cmd.Flags().GetFloat64("dy")

	session, _, done, err := openSession(cmd.Context(), newClient(), args[0])
	if err != nil {
		return fmt.Errorf("open poem: %w", err)
	}
	defer done()

	updated, err := session.UpdatePosition(cmd.Context(), args[1], domain.Offset{DX: dx, DY: dy})
	if err != nil {
		return fmt.Errorf("move: %w", err)
	}
	printAnnotation(cmd, updated)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	session, _, done, err := openSession(cmd.Context(), newClient(), args[0])
	if err != nil {
		return fmt.Errorf("open poem: %w", err)
	}
	defer done()

	if err := session.Delete(cmd.Context(), args[1]); err != nil {
		return fmt.Errorf("rm: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[1])
	return nil
}

func runList(cmd *cobra.Command, args []string) {
	mine, _ := cmd.Flags().GetBool("mine")
	c := newClient()

	var (
		items []domain.Annotation
		err   error
	)
	switch {
	case mine:
		items, err = c.ListMyAnnotations(cmd.Context())
	case len(args) == 1:
		items, err = c.ListAnnotations(cmd.Context(), args[0])
	default:
		err = fmt.Errorf("POEM_ID or --mine is required")
	}
	if err != nil {
		exitErr("list", err)
	}
	printJSON(cmd, items)
}
