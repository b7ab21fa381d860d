// Package main is the entrypoint for the Passify operator CLI.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/passifypro/passify/internal/config"
	"github.com/passifypro/passify/internal/db"
	"github.com/passifypro/passify/internal/ledger"
	"github.com/passifypro/passify/internal/vault"
	"github.com/passifypro/passify/internal/wallet"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "passify-cli",
		Short:        "Passify operator CLI - manage credentials and redeem tickets",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newCredentialCmd(),
		newRedeemCmd(),
		newHashKeyCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Passify CLI %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the wallet signing credential",
	}

	var dataDir string
	setCmd := &cobra.Command{
		Use:   "set <service-account.json>",
		Short: "Encrypt and store a service account credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCredentialSet(dataDir, args[0])
		},
	}
	setCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Passify data directory")

	var statusDataDir string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a credential is configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := vault.New(statusDataDir, cliLogger())
			if err != nil {
				return err
			}
			if v.IsConfigured() {
				fmt.Println("Credential: configured")
			} else {
				fmt.Println("Credential: not configured")
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&statusDataDir, "data-dir", defaultDataDir(), "Passify data directory")

	cmd.AddCommand(setCmd, statusCmd)
	return cmd
}

func runCredentialSet(dataDir, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}

	v, err := vault.New(dataDir, cliLogger())
	if err != nil {
		return err
	}
	if err := v.Configure(raw); err != nil {
		return err
	}

	fmt.Println("Credential stored.")
	return nil
}

func newRedeemCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "redeem <ticket>",
		Short: "Redeem a ticket number or pass object ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedeem(cmd, dataDir, args[0])
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Passify data directory")
	return cmd
}

func runRedeem(cmd *cobra.Command, dataDir, ticket string) error {
	logger := cliLogger()

	cfg := config.LoadServerConfig()

	credVault, err := vault.New(dataDir, logger)
	if err != nil {
		return err
	}

	store, err := db.NewStore(dataDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	backend := func() (ledger.WalletAPI, error) {
		cred, err := credVault.Load()
		if err != nil {
			return nil, err
		}
		return wallet.NewClient(cred, logger), nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.WalletTimeout)
	defer cancel()

	rec, err := ledger.New(store, backend, logger).Redeem(ctx, ticket)
	if err != nil {
		return err
	}

	fmt.Printf("Redeemed %s at %s\n", rec.TicketNumber, rec.RedeemedAt.Format(time.RFC3339))
	return nil
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an API key for the configuration file",
		Long: `Hash an API key for the api_keys section of the configuration file.

The key is read from stdin and never echoed; only the bcrypt hash is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey()
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("API key cannot be empty")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Println(string(hash))
			return nil
		},
	}
}

// readKey reads the API key without echo when stdin is a terminal.
func readKey() (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Enter API key: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read API key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func defaultDataDir() string {
	if v := os.Getenv("DATA_DIR"); v != "" {
		return v
	}
	return "/var/lib/passify"
}

func cliLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if os.Getenv("DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
