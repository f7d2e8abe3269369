// Package main is the entry point for the quill admin CLI.
// It manages user roles and runs one-off maintenance tasks against the
// configured database.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/mail"
	"github.com/prn-tf/quill/internal/pkg/crypto"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/repository/store"
	"github.com/prn-tf/quill/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	offset := pflag.Int("offset", 0, "number of users to skip when listing")
	limit := pflag.Int("limit", 50, "maximum number of users to list")
	dryRun := pflag.Bool("dry-run", false, "count expired secrets without clearing them")
	pflag.Usage = printUsage
	pflag.Parse()

	if pflag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := pflag.Arg(0)
	switch command {
	case "version":
		fmt.Printf("quill admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.WarnLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		fail("failed to open database: %v", err)
	}
	defer db.Close()

	accounts := newAccountService(cfg, db.User, logger)

	switch command {
	case "users":
		err = listUsers(ctx, accounts, *offset, *limit)

	case "promote", "demote":
		if pflag.NArg() < 2 {
			fail("usage: quill-admin %s <username>", command)
		}
		role := domain.RoleAdmin
		if command == "demote" {
			role = domain.RoleUser
		}
		err = setRole(ctx, accounts, pflag.Arg(1), role)

	case "sweep":
		err = sweep(ctx, cfg, db.User, *dryRun, logger)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fail("%s: %v", command, err)
	}
}

func listUsers(ctx context.Context, accounts *service.AccountService, offset, limit int) error {
	result, err := accounts.ListUsers(ctx, repository.ListOptions{Offset: offset, Limit: limit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tROLE\tSTATE\tVERIFIED")
	for _, u := range result.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", u.ID, u.Username, u.Email, u.Role, u.State(), u.IsVerified)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d users\n", len(result.Items), result.Total)
	return nil
}

// newAccountService builds the account service for offline commands. They
// never send mail or issue tokens, so mail goes to the log sender.
func newAccountService(cfg *config.Config, users repository.UserRepository, logger zerolog.Logger) *service.AccountService {
	return service.NewAccountService(
		users,
		crypto.NewPasswordHasher(cfg.Auth.BcryptCost),
		auth.NewTokenManager(auth.TokenConfig{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer, TTL: cfg.Auth.TokenTTL}),
		mail.NewLogSender(logger),
		mail.Templates{BaseURL: cfg.Server.PublicURL},
		lock.NewMemoryLocker(),
		nil,
		logger,
		service.AccountConfigFrom(cfg.Auth),
	)
}

func setRole(ctx context.Context, accounts *service.AccountService, username string, role domain.Role) error {
	user, err := accounts.SetRole(ctx, username, role)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", user.Username, user.Role)
	return nil
}

func sweep(ctx context.Context, cfg *config.Config, users repository.UserRepository, dryRun bool, logger zerolog.Logger) error {
	sweeperCfg := service.SweeperConfigFrom(cfg.Sweeper)
	sweeperCfg.DryRun = dryRun

	result := service.NewSecretSweeper(users, lock.NewMemoryLocker(), nil, logger, sweeperCfg).RunOnce(ctx)
	if result.Errors > 0 {
		return fmt.Errorf("sweep finished with %d errors", result.Errors)
	}

	fmt.Printf("expired secrets: %d\n", result.Expired)
	if dryRun {
		fmt.Println("dry run, nothing cleared")
		return nil
	}
	fmt.Printf("accounts cleared: %d\n", result.UsersCleared)
	return nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`quill admin CLI

Usage:
  quill-admin [flags] <command> [arguments]

Commands:
  users               List users (--offset, --limit)
  promote <username>  Grant the admin role
  demote <username>   Revoke the admin role
  sweep               Clear expired reset tokens and codes (--dry-run)
  version             Print version information
  help                Show this help message

Flags:
  -c, --config path   Configuration file (QUILL_* environment variables also apply)`)
}
