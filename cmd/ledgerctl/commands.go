package main

import (
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/app"
	"github.com/qs3c/gen_go_server/internal/database"
	"github.com/qs3c/gen_go_server/internal/logger"
)

type opener func(configPath string) (*app.App, error)

func openApp(configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Setup(cfg.Log)
	return app.New(cfg)
}

// state 子命令共享的懒加载依赖
type state struct {
	open       opener
	configPath string
	app        *app.App
}

func (s *state) get() (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := s.open(s.configPath)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func (s *state) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

func newRootCmd(st *state) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the credit ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&st.configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(
		newMigrateCmd(st),
		newOpenAccountCmd(st),
		newBalanceCmd(st),
		newGrantBonusCmd(st),
		newPurchaseCmd(st),
		newRefundCmd(st),
		newWeeklyResetCmd(st),
		newExpireBonusesCmd(st),
		newVerifyCmd(st),
	)

	return rootCmd
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func newMigrateCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update ledger tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := st.get()
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(a.DB); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func newOpenAccountCmd(st *state) *cobra.Command {
	var plan string
	cmd := &cobra.Command{
		Use:   "open-account",
		Short: "Open an account and seed its first weekly credits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := st.get()
			if err != nil {
				return err
			}
			account, err := a.Ledger.OpenAccount(cmd.Context(), plan)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d\n", account.ID, account.Plan, account.Subscription)
			return nil
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "plan name, defaults to ledger.default_plan")
	return cmd
}

func newBalanceCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show per-pool balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := st.get()
			if err != nil {
				return err
			}
			b, err := a.Ledger.GetBalance(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "bonus=%d subscription=%d purchased=%d total=%d\n",
				b.Bonus, b.Subscription, b.Purchased, b.Total)
			return nil
		},
	}
}

func newGrantBonusCmd(st *state) *cobra.Command {
	var expiresIn time.Duration
	cmd := &cobra.Command{
		Use:   "grant-bonus <account-id> <amount>",
		Short: "Grant expiring bonus credits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			a, err := st.get()
			if err != nil {
				return err
			}
			grant, err := a.Ledger.GrantBonus(cmd.Context(), id, amount, time.Now().Add(expiresIn))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "grant %d: %d credits until %s\n",
				grant.ID, grant.Amount, grant.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 7*24*time.Hour, "validity period")
	return cmd
}

func newPurchaseCmd(st *state) *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:   "purchase <account-id> <amount>",
		Short: "Credit purchased credits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			a, err := st.get()
			if err != nil {
				return err
			}
			entry, err := a.Ledger.Purchase(cmd.Context(), id, amount, memo)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "entry %d: purchased balance %d\n", entry.ID, entry.BalanceAfter)
			return nil
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "free-form note stored on the entry")
	return cmd
}

func newRefundCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <entry-id>",
		Short: "Reverse a debit entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := st.get()
			if err != nil {
				return err
			}
			entry, err := a.Ledger.Refund(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "entry %d: refunded %d to %s\n", entry.ID, entry.Amount, entry.Pool)
			return nil
		},
	}
}

func newWeeklyResetCmd(st *state) *cobra.Command {
	var plan string
	cmd := &cobra.Command{
		Use:   "weekly-reset [account-id]",
		Short: "Reset one account, or every account whose reset is due",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.get()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				n, err := a.Ledger.ResetDueSubscriptions(cmd.Context())
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reset %d accounts\n", n)
				return err
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			entry, err := a.Ledger.WeeklyReset(cmd.Context(), id, plan)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "account %d: subscription %d\n", id, entry.BalanceAfter)
			return nil
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "switch to this plan before resetting")
	return cmd
}

func newExpireBonusesCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-bonuses",
		Short: "Sweep expired bonus grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := st.get()
			if err != nil {
				return err
			}
			n, err := a.Ledger.ExpireBonuses(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "expired %d grants\n", n)
			return err
		},
	}
}

func newVerifyCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <account-id>",
		Short: "Replay ledger entries and compare with stored balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := st.get()
			if err != nil {
				return err
			}
			if err := a.Ledger.VerifyReplay(cmd.Context(), id); err != nil {
				log.WithError(err).WithField("account_id", id).Error("ledger verification failed")
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "account %d: ledger consistent\n", id)
			return nil
		},
	}
}
