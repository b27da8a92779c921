package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"setup-wizard/internal/domain"
	"setup-wizard/internal/onboarding"
)

var summaryModel string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted wizard status and model diagnostics",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download missing models and complete onboarding",
	Long: `Run walks the wizard headlessly: it verifies both models, downloads
whatever is missing, prints progress and completes onboarding once both are
ready.`,
	Args: cobra.NoArgs,
	RunE: runWizard,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the persisted wizard status",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rec, err := app.Status.Load(ctx)
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	if rec == nil {
		fmt.Fprintln(out, "Onboarding: not started")
	} else {
		fmt.Fprintf(out, "Onboarding: step %d/%d, completed=%v, updated %s\n",
			rec.CurrentStep, domain.LastStep, rec.Completed, rec.LastUpdated.Format("2006-01-02 15:04:05"))
	}
	if model, err := app.Status.SummaryModel(ctx); err == nil && model != "" {
		fmt.Fprintf(out, "Summary model: %s\n", model)
	}

	fmt.Fprintln(out)
	writeDiagnostics(out, app.RefreshDiagnostics())
	return nil
}

func runWizard(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	out := cmd.OutOrStdout()

	changes := make(chan onboarding.Snapshot, 1)
	app.Onboarding.OnChange(func(s onboarding.Snapshot) {
		select {
		case changes <- s:
		default:
			select {
			case <-changes:
			default:
			}
			select {
			case changes <- s:
			default:
			}
		}
	})

	if err := app.Onboarding.Start(ctx); err != nil {
		return fmt.Errorf("start onboarding: %w", err)
	}
	if summaryModel != "" {
		if err := app.Onboarding.SelectSummaryModel(ctx, summaryModel); err != nil {
			return err
		}
	}
	if app.Onboarding.Completed() {
		fmt.Fprintln(out, "Onboarding already completed.")
		return nil
	}

	for _, r := range domain.Resources {
		if err := app.Onboarding.GoToStep(ctx, domain.StepFor(r)); err != nil {
			return err
		}
		if !app.Settings.AutoDownload {
			if err := app.Onboarding.StartDownload(ctx, r); err != nil {
				return err
			}
		}
	}

	if err := waitForModels(ctx, out, app.Onboarding, changes); err != nil {
		return err
	}

	if err := app.Onboarding.GoToStep(ctx, domain.StepComplete); err != nil {
		return err
	}
	if err := app.Onboarding.CompleteOnboarding(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Onboarding completed with summary model %s.\n", app.Onboarding.SummaryModel())
	return nil
}

// waitForModels prints progress until both resources are ready or one fails.
func waitForModels(ctx context.Context, out io.Writer, ctrl *onboarding.Controller, changes <-chan onboarding.Snapshot) error {
	printed := map[domain.ResourceID]string{}
	snap := ctrl.State()
	for {
		for _, r := range domain.Resources {
			state := snap.Resources[r]
			info := snap.Progress[r]
			line := fmt.Sprintf("%-13s %-16s %3d%%", r, state.Status, info.Percent)
			if info.SpeedMBps > 0 && state.Status == domain.StatusDownloading {
				line += fmt.Sprintf("  %.1f MB/s", info.SpeedMBps)
			}
			if line != printed[r] {
				printed[r] = line
				fmt.Fprintln(out, line)
			}
			if state.Status == domain.StatusError {
				return fmt.Errorf("%s model: %s", r, state.LastError)
			}
		}
		if snap.Ready() {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.New("interrupted")
		case snap = <-changes:
		}
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Status.Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Onboarding status reset.")
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGROUP\tSIZE\tDOWNLOADED")
	for _, m := range app.GetModels() {
		mark := "-"
		if m.Downloaded {
			mark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Group, m.SizeLabel, mark)
	}
	return w.Flush()
}

func writeDiagnostics(out io.Writer, report domain.DiagnosticReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	for _, item := range report.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Name, item.Status, item.Message)
	}
	_ = w.Flush()
}
