package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"libraryapi/internal/auth"
	"libraryapi/internal/config"
	"libraryapi/internal/database"
	"libraryapi/internal/repository"
	"libraryapi/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Administrative tasks for the library API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newMigrateCmd(), newCreateAdminCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if _, err := database.NewConnection(cfg.DBDriver, cfg.DSN()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema is up to date", "driver", cfg.DBDriver)
			return nil
		},
	}
}

func newCreateAdminCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create or reset a user holding every permission",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			if password == "" {
				password, err = readPassword(cmd, "Password: ")
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}

			db, err := database.NewConnection(cfg.DBDriver, cfg.DSN())
			if err != nil {
				return err
			}

			users := newUserService(db, cfg, logger)
			admin, err := users.EnsureAdmin(context.Background(), name, email, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "admin %s (%s) holds: %s\n",
				admin.Email, admin.ID, strings.Join(admin.Permissions, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevelValue()}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newUserService(db *gorm.DB, cfg *config.Config, logger *slog.Logger) service.UserService {
	return service.NewUserService(
		repository.NewUserRepository(db),
		repository.NewAuditRepository(db),
		repository.NewTransactionManager(db),
		auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		logger,
	)
}

// readPassword reads a password without echo, twice, when stdin is a terminal.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; pass --password")
	}

	out := cmd.ErrOrStderr()
	fmt.Fprint(out, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}

	fmt.Fprint(out, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return strings.TrimSpace(string(first)), nil
}
