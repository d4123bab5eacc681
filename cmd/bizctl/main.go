// bizctl is a terminal client for the BizTreck auth backend. The session is
// kept in the encrypted file vault, so tokens and identity survive between
// invocations the way a browser session survives a reload.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"biztreck.org/internal/config"
	"biztreck.org/internal/gateway"
	"biztreck.org/internal/session"
	"biztreck.org/internal/vault"
)

var version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "bizctl",
		Short: "BizTreck session and identity client",
		Long: `bizctl drives the BizTreck auth API from the terminal.

The session (identity record, access and refresh tokens) is persisted in an
encrypted vault file, so an authenticated session survives between
invocations. Expired access tokens are renewed transparently on use.

Set BIZTRECK_VAULT_PASSPHRASE to unlock the vault and BIZTRECK_API_URL to
point at the backend (default http://localhost:8080/api).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		registerCmd(),
		passwdCmd(),
		forgotPasswordCmd(),
		resetPasswordCmd(),
		profileCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// buildStack wires vault, session store and gateway from the environment.
func buildStack(ctx context.Context) (*gateway.Gateway, *session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	v, err := openVault(cfg.Vault)
	if err != nil {
		return nil, nil, err
	}
	store, err := session.New(ctx, v, session.WithTokenTTLs(cfg.Token.AccessTTL, cfg.Token.RefreshTTL))
	if err != nil {
		return nil, nil, err
	}
	g, err := gateway.New(cfg.API.BaseURL, store,
		gateway.WithNotifier(gateway.LogNotifier{}),
		gateway.WithTimeout(cfg.API.Timeout),
	)
	if err != nil {
		return nil, nil, err
	}
	return g, store, nil
}

func openVault(cfg config.VaultConfig) (vault.Vault, error) {
	if cfg.PostgresDSN != "" {
		return vault.OpenPostgres(cfg.PostgresDSN)
	}
	if cfg.Passphrase == "" {
		return nil, errors.New("BIZTRECK_VAULT_PASSPHRASE is not set")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	return vault.OpenFile(cfg.FilePath, cfg.Passphrase)
}

func printUser(u session.User) {
	fmt.Printf("%s <%s>\n", u.Profile.FullName, u.Email)
	fmt.Printf("  id:    %s\n", u.ID)
	fmt.Printf("  role:  %s\n", u.Role)
	if u.Organization != nil {
		fmt.Printf("  org:   %s\n", u.Organization.Name)
	}
	perms := session.RolePermissions(u.Role)
	perms = append(perms, u.Permissions...)
	if len(perms) > 0 {
		fmt.Println("  permissions:")
		for _, p := range perms {
			fmt.Printf("    - %s\n", p)
		}
	}
}
