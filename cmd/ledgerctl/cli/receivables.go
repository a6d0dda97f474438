package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopledger/shopledger/internal/ar"
)

// AllocateOptions holds flags for the allocate command.
type AllocateOptions struct {
	*RootOptions
	Amount float64
	Date   string
	Note   string
}

// NewAllocateCommand creates the allocate command.
func NewAllocateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AllocateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "allocate <estimate-id>",
		Short: "Record a customer payment against an invoice",
		Long: `Record a customer payment against a confirmed invoice.

Whatever exceeds the invoice's due amount settles the same customer's other
open invoices, oldest first. A remainder is kept on the target as an advance.

Example:
  ledgerctl allocate 6f1c... --amount 1500 --note "UPI ref 99812"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Amount <= 0 {
				return errors.New("--amount must be positive")
			}
			date := opts.Date
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			payment := ar.Payment{Amount: opts.Amount, Date: date, Note: opts.Note}
			var allocation ar.Allocation
			path := "/api/estimates/" + url.PathEscape(args[0]) + "/payments"
			if err := newAPIClient(opts.RootOptions).do(cmd.Context(), http.MethodPost, path, payment, &allocation); err != nil {
				return err
			}
			return writeAllocation(cmd.OutOrStdout(), opts.Format, allocation)
		},
	}

	cmd.Flags().Float64Var(&opts.Amount, "amount", 0, "amount received")
	cmd.Flags().StringVar(&opts.Date, "date", "", "payment date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "payment note")

	return cmd
}

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	AsOf string
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show outstanding balances per customer with aging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/ledger"
			if opts.AsOf != "" {
				if _, err := time.Parse("2006-01-02", opts.AsOf); err != nil {
					return fmt.Errorf("invalid --as-of %q: %w", opts.AsOf, err)
				}
				path += "?as_of=" + url.QueryEscape(opts.AsOf)
			}
			var rows []ar.CustomerBalance
			if err := newAPIClient(opts.RootOptions).do(cmd.Context(), http.MethodGet, path, nil, &rows); err != nil {
				return err
			}
			return writeLedger(cmd.OutOrStdout(), opts.Format, rows)
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "aging reference date (YYYY-MM-DD, default today)")

	return cmd
}
