package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsave/ledger/internal/ledger"
)

// errDiscrepancies makes reconcile exit non-zero when balances drift.
var errDiscrepancies = errors.New("balance discrepancies found")

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			if err := b.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func reconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute balances from the transaction log and report drift",
		Long: `Recompute every account balance from its COMPLETED transactions and
compare it with the cached balance. Exits non-zero if any account disagrees.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			drift, err := b.engine.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(drift) == 0 {
				fmt.Fprintln(out, "all balances reconcile")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tCACHED\tCOMPUTED")
			for _, d := range drift {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.AccountID, d.Cached.StringFixed(ledger.Scale), d.Computed.StringFixed(ledger.Scale))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return fmt.Errorf("%w: %d account(s)", errDiscrepancies, len(drift))
		},
	}
}

func pendingCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List withdrawals stuck in PROCESSING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			txns, err := b.engine.PendingWithdrawals(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACCOUNT\tAMOUNT\tCREATED")
			for _, txn := range txns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", txn.ID, txn.SenderID, txn.Amount.StringFixed(ledger.Scale), txn.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only list withdrawals created at least this long ago")
	return cmd
}

func resolveCmd(opts *rootOptions) *cobra.Command {
	var (
		approve bool
		decline bool
		reason  string
	)
	cmd := &cobra.Command{
		Use:   "resolve <transaction-id>",
		Short: "Finalise a PROCESSING withdrawal with an outcome confirmed out of band",
		Example: `  ledgerctl resolve 6f1c... --approve
  ledgerctl resolve 6f1c... --decline --reason "rail returned funds"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == decline {
				return errors.New("exactly one of --approve or --decline is required")
			}
			b, err := opts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			txn, err := b.engine.ResolveWithdrawal(cmd.Context(), args[0], ledger.SettlementOutcome{
				Approved:  approve,
				Reference: "manual",
				Reason:    reason,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", txn.ID, txn.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "mark the withdrawal COMPLETED and debit the account")
	cmd.Flags().BoolVar(&decline, "decline", false, "mark the withdrawal FAILED")
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason recorded with --decline")
	return cmd
}
