package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"biztreck.org/internal/gateway"
	"biztreck.org/internal/session"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and update the profile",
	}
	cmd.AddCommand(profileSetCmd())
	return cmd
}

func profileSetCmd() *cobra.Command {
	var firstName, lastName, phone, avatar, email string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			if firstName == "" && lastName == "" && phone == "" && avatar == "" && email == "" {
				return errors.New("nothing to update; pass at least one field flag")
			}
			g, _, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			update := gateway.ProfileUpdate{Email: email}
			if firstName != "" || lastName != "" || phone != "" || avatar != "" {
				update.Profile = &session.Profile{
					FirstName: firstName,
					LastName:  lastName,
					Phone:     phone,
					Avatar:    avatar,
				}
			}
			user, err := g.UpdateProfile(cmd.Context(), update)
			if err != nil {
				return err
			}
			fmt.Println("Profile updated")
			printUser(user)
			return nil
		},
	}
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}
