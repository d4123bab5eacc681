package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"biztreck.org/internal/gateway"
	"biztreck.org/internal/session"
)

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}
			user, err := g.Login(cmd.Context(), gateway.Credentials{Email: email, Password: password})
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s)\n", user.Email, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and wipe the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			if all {
				err = g.LogoutAll(cmd.Context())
			} else {
				err = g.Logout(cmd.Context())
			}
			if err != nil {
				return err
			}
			if all {
				fmt.Println("Logged out from all devices")
			} else {
				fmt.Println("Logged out")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "invalidate every active session for this account")
	return cmd
}

func whoamiCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, store, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			if verify {
				user, err := g.CurrentUser(cmd.Context())
				if err != nil {
					return fmt.Errorf("session is not valid: %w", err)
				}
				printUser(user)
				return nil
			}
			snap := store.Snapshot()
			if !snap.IsAuthenticated || snap.User == nil {
				return errors.New("not logged in")
			}
			printUser(*snap.User)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "confirm the session against the server")
	return cmd
}

func registerCmd() *cobra.Command {
	var email, password, firstName, lastName, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}
			reg := gateway.Registration{
				Email:    email,
				Password: password,
				Profile:  session.Profile{FirstName: firstName, LastName: lastName},
				Role:     role,
			}
			user, err := g.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (%s)\n", user.Email, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&role, "role", "", "requested role (default client)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimSpace(string(raw))
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
