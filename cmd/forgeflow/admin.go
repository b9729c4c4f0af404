package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/ForgeFlow/internal/adapter/postgres"
	"github.com/Strob0t/ForgeFlow/internal/config"
	"github.com/Strob0t/ForgeFlow/internal/resilience"
	"github.com/Strob0t/ForgeFlow/internal/service"
)

// runAdmin dispatches admin subcommands (add-profile, list-profiles).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "add-profile":
		return runAdminAddProfile(args[1:])
	case "list-profiles":
		return runAdminListProfiles(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: forgeflow admin <command> [options]

Commands:
  add-profile     Add a credential profile (token prompted, stored encrypted)
  list-profiles   List credential profiles
  help            Show this help message

Examples:
  forgeflow admin add-profile --name primary --default
  forgeflow admin add-profile --name fallback
  forgeflow admin list-profiles
`)
}

func loadAdminDeps() (*service.FailoverService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	failoverSvc := service.NewFailoverService(store, nil, nil, nil, breaker, cfg.Failover)

	cleanup := func() {
		pool.Close()
	}
	return failoverSvc, cleanup, nil
}

func runAdminAddProfile(args []string) error {
	fs := flag.NewFlagSet("add-profile", flag.ContinueOnError)
	name := fs.String("name", "", "profile name (required)")
	token := fs.String("token", "", "provider token (prompted if not provided)") //nolint:gosec // CLI flag
	isDefault := fs.Bool("default", false, "mark as the default profile")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	tok := *token
	if tok == "" {
		var err error
		tok, err = promptSecret("Provider token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		confirm, err := promptSecret("Confirm token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if tok != confirm {
			return fmt.Errorf("tokens do not match")
		}
	}

	failoverSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	p, err := failoverSvc.AddProfile(ctx, *name, tok, *isDefault)
	if err != nil {
		return fmt.Errorf("add profile: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Profile created: %s (id=%s, default=%t)\n", p.Name, p.ID, p.IsDefault)
	return nil
}

func runAdminListProfiles(args []string) error {
	fs := flag.NewFlagSet("list-profiles", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	failoverSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	profiles, err := failoverSvc.Profiles(ctx)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}

	if len(profiles) == 0 {
		fmt.Println("No profiles found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tDEFAULT\tACTIVE\tAUTHENTICATED\tQUOTA_USED\tQUOTA_LIMIT\tRESET_AT")
	for i := range profiles {
		p := &profiles[i]
		resetAt := "-"
		if p.Quota.ResetAt != nil {
			resetAt = p.Quota.ResetAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\t%d\t%d\t%s\n",
			p.ID, p.Name, p.IsDefault, p.IsActive, p.IsAuthenticated,
			p.Quota.Used, p.Quota.Limit, resetAt)
	}
	return w.Flush()
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after secret input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
