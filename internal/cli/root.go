// Package cli implements the poetate CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"poetate/api/pkg/annotate"
	"poetate/api/pkg/client"
	"poetate/api/pkg/domain"
)

var (
	serverFlag string
	tokenFlag  string
	shareFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "poetate",
	Short: "Annotate poems together",
	Long:  "A CLI for the poetate API: submit poems, share them, and annotate them live with collaborators.",

	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "API base URL (default: $POETATE_SERVER or http://localhost:5000)")
	RootCmd.PersistentFlags().StringVarP(&tokenFlag, "token", "t", "", "Session token (default: $POETATE_TOKEN)")
	RootCmd.PersistentFlags().StringVar(&shareFlag, "share", "", "Share link id to act through")
}

func getServer() string {
	if serverFlag != "" {
		return serverFlag
	}
	if env := os.Getenv("POETATE_SERVER"); env != "" {
		return env
	}
	return "http://localhost:5000"
}

func getToken() string {
	if tokenFlag != "" {
		return tokenFlag
	}
	return os.Getenv("POETATE_TOKEN")
}

func newClient() *client.Client {
	c := client.New(getServer(), getToken())
	if shareFlag != "" {
		c = c.WithShare(shareFlag)
	}
	return c
}

// openSession loads the poem's annotations and joins its room. The returned
// func closes the channel.
func openSession(ctx context.Context, c *client.Client, poemID string) (*annotate.Session, *client.Channel, func(), error) {
	poem, err := c.GetPoem(ctx, poemID)
	if err != nil {
		return nil, nil, nil, err
	}
	readOnly := false
	if shareFlag != "" {
		view, err := c.OpenShare(ctx, shareFlag)
		if err != nil {
			return nil, nil, nil, err
		}
		readOnly = !view.Editable
	}

	ch, err := c.Channel(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := ch.Join(ctx, poem.ID); err != nil {
		_ = ch.Close()
		return nil, nil, nil, err
	}

	session := annotate.NewSession(*poem, c, ch, annotate.Options{ReadOnly: readOnly})
	if err := session.Load(ctx); err != nil {
		_ = ch.Close()
		return nil, nil, nil, err
	}
	return session, ch, func() { _ = ch.Close() }, nil
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func printAnnotation(cmd *cobra.Command, a domain.Annotation) {
	printJSON(cmd, a)
}

// exitErr is for commands that hold no open resources. Commands with an open
// channel return their error through RunE so deferred cleanup runs.
func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
