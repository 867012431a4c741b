package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"poetate/api/pkg/annotate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch POEM_ID",
		Short: "Follow live annotation changes on a poem",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, ch, done, err := openSession(ctx, newClient(), args[0])
	if err != nil {
		return fmt.Errorf("open poem: %w", err)
	}
	defer done()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, `{"event":"loaded","poemId":%q,"annotations":%d}`+"\n", session.PoemID(), session.Len())

	err = session.Run(ctx, ch.Events(), func(change annotate.Change) {
		line := map[string]any{"event": change.Event, "id": change.ID}
		if a, ok := session.Get(change.ID); ok {
			line["annotation"] = a
		}
		b, _ := json.Marshal(line)
		fmt.Fprintln(out, string(b))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch: %w", err)
	}
	if chErr := ch.Err(); chErr != nil && ctx.Err() == nil {
		return fmt.Errorf("watch: %w", chErr)
	}
	return nil
}
