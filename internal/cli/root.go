// Package cli implements importctl, the operator command line for the CSV
// import pipeline. It drives core.Service directly against the database, so
// it works while the HTTP server is down.
package cli

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/results-america/internal/core"
)

// ServiceOpener connects to the pipeline. The returned func releases
// whatever the service holds.
type ServiceOpener func(ctx context.Context) (*core.Service, func(), error)

type app struct {
	open    ServiceOpener
	timeout time.Duration
}

// NewRootCmd builds the importctl command tree.
func NewRootCmd(open ServiceOpener) *cobra.Command {
	a := &app{open: open, timeout: 5 * time.Minute}
	var noColor bool

	root := &cobra.Command{
		Use:   "importctl",
		Short: "Manage CSV data imports",
		Long: `importctl stages, validates and publishes CSV or XLSX files of state
statistics, and inspects import history.`,
		Example: `  # Stage a file against a template
  $ importctl upload gdp.csv --template 6f1f0c1e-8d7a-4b8e-9a53-2f6c1d0e9b11 --user alice

  # Validate and publish it
  $ importctl validate <import-id>
  $ importctl publish <import-id> --user alice

  # Review recent failures
  $ importctl list --status failed`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", a.timeout, "Timeout for each command")

	root.AddCommand(
		a.newTemplatesCmd(),
		a.newListCmd(),
		a.newUploadCmd(),
		a.newValidateCmd(),
		a.newPublishCmd(),
		a.newShowCmd(),
	)
	return root
}

// withService opens the service for one command run.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *core.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	svc, closeFn, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}
