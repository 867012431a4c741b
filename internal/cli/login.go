package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	login := &cobra.Command{
		Use:   "login",
		Short: "Open a session and print its token",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
	login.Flags().String("email", "", "Account email (required)")
	login.Flags().String("password", "", "Account password (default: $POETATE_PASSWORD)")
	login.MarkFlagRequired("email")

	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account and print a session token",
		Args:  cobra.NoArgs,
		RunE:  runRegister,
	}
	register.Flags().String("email", "", "Account email (required)")
	register.Flags().String("password", "", "Account password (default: $POETATE_PASSWORD)")
	register.Flags().String("name", "", "Display name (default: the email)")
	register.MarkFlagRequired("email")

	RootCmd.AddCommand(login, register)
}

func getPassword(cmd *cobra.Command) string {
	if pw, _ := cmd.Flags().GetString("password"); pw != "" {
		return pw
	}
	return os.Getenv("POETATE_PASSWORD")
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	result, err := newClient().Login(cmd.Context(), email, getPassword(cmd))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	printJSON(cmd, result)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")
	result, err := newClient().Register(cmd.Context(), email, getPassword(cmd), name)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	printJSON(cmd, result)
	return nil
}
