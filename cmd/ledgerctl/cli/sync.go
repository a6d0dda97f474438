package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/shopledger/shopledger/internal/syncer"
)

// ConfigureOptions holds flags for the configure command.
type ConfigureOptions struct {
	*RootOptions
	Endpoint string
	Token    string
}

// NewConfigureCommand creates the configure command.
func NewConfigureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Store the sync server endpoint and access token",
		Long: `Store the sync server endpoint and access token on the instance.

The token selects the data partition on the sync server. A reconcile starts
right after the configuration is saved.

Example:
  ledgerctl configure --endpoint https://sync.example.com/data --token s3cret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Endpoint == "" || opts.Token == "" {
				return errors.New("--endpoint and --token are required")
			}
			var status syncer.Status
			body := map[string]string{"endpoint": opts.Endpoint, "token": opts.Token}
			if err := newAPIClient(opts.RootOptions).do(cmd.Context(), http.MethodPut, "/api/sync/config", body, &status); err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), opts.Format, status)
		},
	}

	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "sync server URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "access token")

	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status syncer.Status
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, "/api/sync/status", nil, &status); err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), opts.Format, status)
		},
	}
}

type reconcileResult struct {
	Result syncer.Result `json:"result"`
	Status syncer.Status `json:"status"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile against the sync server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out reconcileResult
			if err := newAPIClient(opts).do(cmd.Context(), http.MethodPost, "/api/sync/reconcile", nil, &out); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "result:       %s\n", out.Result)
			return writeStatus(cmd.OutOrStdout(), opts.Format, out.Status)
		},
	}
}

// ForceOptions holds flags for push and pull.
type ForceOptions struct {
	*RootOptions
	Yes bool
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return newForceCommand(rootOpts, "push", "/api/sync/push",
		"Overwrite the sync server with this device's data")
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return newForceCommand(rootOpts, "pull", "/api/sync/pull",
		"Overwrite this device's data with the sync server's copy")
}

func newForceCommand(rootOpts *RootOptions, use, path, short string) *cobra.Command {
	opts := &ForceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  short + ", ignoring which side is newer. Requires --yes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return fmt.Errorf("%s overwrites data; pass --yes to confirm", use)
			}
			var status syncer.Status
			if err := newAPIClient(opts.RootOptions).do(cmd.Context(), http.MethodPost, path, nil, &status); err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), opts.Format, status)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm the overwrite")

	return cmd
}
