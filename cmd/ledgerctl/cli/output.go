package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopledger/shopledger/internal/ar"
	"github.com/shopledger/shopledger/internal/syncer"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStatus(w io.Writer, format string, status syncer.Status) error {
	if format == "json" {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "state:        %s\n", status.State)
	if status.Message != "" {
		fmt.Fprintf(w, "message:      %s\n", status.Message)
	}
	if status.Direction != "" {
		fmt.Fprintf(w, "direction:    %s\n", status.Direction)
	}
	fmt.Fprintf(w, "local clock:  %d\n", status.LocalClock)
	fmt.Fprintf(w, "remote clock: %d\n", status.RemoteClock)
	if !status.At.IsZero() {
		fmt.Fprintf(w, "at:           %s\n", status.At.Format(time.RFC3339))
	}
	return nil
}

func writeAllocation(w io.Writer, format string, allocation ar.Allocation) error {
	if format == "json" {
		return writeJSON(w, allocation)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INVOICE\tAMOUNT\tADVANCE\tNOTE")
	for _, p := range allocation.Postings {
		invoice := p.InvoiceNumber
		if invoice == "" {
			invoice = p.EstimateID
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%s\n", invoice, p.Entry.Amount, p.Advance, p.Entry.Note)
	}
	return tw.Flush()
}

func writeLedger(w io.Writer, format string, rows []ar.CustomerBalance) error {
	if format == "json" {
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CUSTOMER\tPHONE\tINVOICES\tBILLED\tPAID\tDUE\tCURRENT\t30\t60\t90\t120+")
	for _, row := range rows {
		a := row.Aging
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			row.Name, row.Phone, row.Invoices, row.Billed, row.Paid, row.Due,
			a.Current, a.Bucket30, a.Bucket60, a.Bucket90, a.Bucket120)
	}
	return tw.Flush()
}
