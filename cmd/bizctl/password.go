package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"biztreck.org/internal/gateway"
)

func passwdCmd() *cobra.Command {
	var current, next string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the account password",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			if current == "" {
				if current, err = promptPassword("Current password: "); err != nil {
					return err
				}
			}
			if next == "" {
				if next, err = promptPassword("New password: "); err != nil {
					return err
				}
			}
			change := gateway.PasswordChange{CurrentPassword: current, NewPassword: next}
			if err := g.ChangePassword(cmd.Context(), change); err != nil {
				return err
			}
			fmt.Println("Password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "current password (prompted when omitted)")
	cmd.Flags().StringVar(&next, "new", "", "new password (prompted when omitted)")
	return cmd
}

func forgotPasswordCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.ForgotPassword(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Println("Reset requested; check the configured delivery channel")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func resetPasswordCmd() *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Redeem a reset token for a new password",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = promptPassword("New password: "); err != nil {
					return err
				}
			}
			reset := gateway.PasswordReset{Token: token, Password: password}
			if err := g.ResetPassword(cmd.Context(), reset); err != nil {
				return err
			}
			fmt.Println("Password reset; log in with the new password")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "one-time reset token")
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
