package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradesignal/billing-server-go/internal/config"
	"github.com/tradesignal/billing-server-go/internal/database"
	"github.com/tradesignal/billing-server-go/internal/jobs"
	"github.com/tradesignal/billing-server-go/internal/repository"
	"github.com/tradesignal/billing-server-go/internal/service"
)

var Version = "dev"

// app holds what every subcommand needs once the database is reachable.
type app struct {
	cfg    *config.Config
	db     *database.DB
	admin  *service.AdminService
	job    *jobs.MaintenanceJob
	output *os.File
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var a app
	var operator string

	rootCmd := &cobra.Command{
		Use:           "billing-admin",
		Short:         "Operator tools for accounts and payment events",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&operator, "operator", defaultOperator(), "name recorded in the audit log")

	rootCmd.AddCommand(showCmd(&a))
	rootCmd.AddCommand(grantCmd(&a, &operator))
	rootCmd.AddCommand(revokeCmd(&a, &operator))
	rootCmd.AddCommand(unresolvedCmd(&a))
	rootCmd.AddCommand(maintenanceCmd(&a))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	accounts := repository.NewAccountRepository(db.DB)
	events := repository.NewWebhookEventRepository(db.DB)

	a.cfg = cfg
	a.db = db
	a.admin = service.NewAdminService(accounts, events, service.NewLedger(accounts))
	a.job = jobs.NewMaintenanceJob(accounts, events, cfg.WebhookEventRetention(), config.MaintenanceJobInterval)
	a.output = os.Stdout
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func showCmd(a *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an account with its provider links and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := a.admin.Show(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			return a.print(details)
		},
	}

	accountFlag(cmd, &accountID)

	return cmd
}

func grantCmd(a *app, operator *string) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "grant-pro",
		Short: "Grant PRO to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := a.admin.GrantPro(cmd.Context(), accountID, *operator)
			if err != nil {
				return err
			}
			return a.print(account)
		},
	}

	accountFlag(cmd, &accountID)

	return cmd
}

func revokeCmd(a *app, operator *string) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "revoke-pro",
		Short: "Return an account to FREE with a fresh monthly allotment",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := a.admin.RevokePro(cmd.Context(), accountID, *operator)
			if err != nil {
				return err
			}
			return a.print(account)
		},
	}

	accountFlag(cmd, &accountID)

	return cmd
}

// accountFlag makes the target explicit; no command falls back to a default account.
func accountFlag(cmd *cobra.Command, accountID *string) {
	cmd.Flags().StringVar(accountID, "account-id", "", "Account UUID")
	_ = cmd.MarkFlagRequired("account-id")
}

func unresolvedCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "unresolved-events",
		Short: "List payment events that could not be matched to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := a.admin.UnresolvedEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.print(events)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum events")

	return cmd
}

func maintenanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Reset due FREE credits and prune old webhook events once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.job.RunOnce(cmd.Context())
			log.Info().Msg("maintenance pass finished")
			return nil
		},
	}
}

func defaultOperator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
