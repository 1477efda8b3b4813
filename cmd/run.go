package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-reconciler/internal/config"
	"github.com/sells-group/lead-reconciler/internal/reconcile"
	"github.com/sells-group/lead-reconciler/internal/report"
	"github.com/sells-group/lead-reconciler/internal/store"
)

// runOptions holds the flags shared by run and plan.
type runOptions struct {
	reportPath   string
	xlsxPath     string
	retryFrom    string
	failOnErrors bool
	timeout      time.Duration
	dryRun       bool
}

var (
	runOpts  runOptions
	planOpts runOptions
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile the target store from the source store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeCommand(cmd, runOpts)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute the changes a run would make without writing",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := planOpts
		opts.dryRun = true
		return executeCommand(cmd, opts)
	},
}

func init() {
	for _, c := range []struct {
		cmd  *cobra.Command
		opts *runOptions
	}{{runCmd, &runOpts}, {planCmd, &planOpts}} {
		f := c.cmd.Flags()
		f.StringVar(&c.opts.reportPath, "report", "", "write the run report as JSON to this path")
		f.StringVar(&c.opts.xlsxPath, "xlsx", "", "write the run report as an xlsx workbook to this path")
		f.StringVar(&c.opts.retryFrom, "retry-from", "", "only reconcile the failed ids of this JSON report")
		f.BoolVar(&c.opts.failOnErrors, "fail-on-errors", false, "exit non-zero when any write failed")
		f.DurationVar(&c.opts.timeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	}
	rootCmd.AddCommand(runCmd, planCmd)
}

func executeCommand(cmd *cobra.Command, opts runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	src, tgt, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck
	defer tgt.Close() //nolint:errcheck

	_, err = executeRun(ctx, cfg, src, tgt, opts, cmd.OutOrStdout())
	return err
}

// executeRun runs one reconciliation and writes the requested outputs. The
// report is written even when the run was interrupted.
func executeRun(ctx context.Context, c *config.Config, src, tgt store.Store, opts runOptions, out io.Writer) (report.Report, error) {
	engineCfg, err := engineConfig(c, src, tgt, opts)
	if err != nil {
		return report.Report{}, err
	}
	engine, err := reconcile.New(engineCfg)
	if err != nil {
		return report.Report{}, err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	rep, runErr := engine.Run(ctx)
	if runErr != nil && rep.RunID == "" {
		return rep, runErr
	}

	report.WriteSummary(out, rep)
	if err := writeOutputs(rep, opts); err != nil {
		return rep, err
	}
	if runErr != nil {
		return rep, runErr
	}
	if opts.failOnErrors && rep.HasFailures() {
		return rep, eris.Errorf("%d of %d writes failed", rep.Counts.Failed, rep.Counts.Failed+rep.Counts.Updated)
	}
	return rep, nil
}

func engineConfig(c *config.Config, src, tgt store.Store, opts runOptions) (reconcile.Config, error) {
	policy, err := c.Policy()
	if err != nil {
		return reconcile.Config{}, err
	}

	ec := reconcile.Config{
		Source: reconcile.Side{
			Store:          src,
			OrganizationID: c.Source.OrganizationID,
			Filter:         c.Source.Filter,
		},
		Target: reconcile.Side{
			Store:          tgt,
			OrganizationID: c.Target.OrganizationID,
			Filter:         c.Target.Filter,
		},
		Policy:         policy,
		MinPhoneDigits: c.Reconcile.MinPhoneDigits,
		WriteRateLimit: c.Reconcile.WriteRateLimit,
		ReadRetry:      c.ReadRetry(),
		DryRun:         opts.dryRun,
	}

	if opts.retryFrom != "" {
		ids, err := report.RetryIDs(opts.retryFrom)
		if err != nil {
			return reconcile.Config{}, err
		}
		if len(ids) == 0 {
			return reconcile.Config{}, eris.Errorf("report %s has no failed ids to retry", opts.retryFrom)
		}
		zap.L().Info("retrying failed ids", zap.String("report", opts.retryFrom), zap.Int("ids", len(ids)))
		ec.OnlyTargetIDs = ids
	}
	return ec, nil
}

func writeOutputs(rep report.Report, opts runOptions) error {
	if opts.reportPath != "" {
		if err := report.SaveJSON(opts.reportPath, rep); err != nil {
			return err
		}
		zap.L().Info("report written", zap.String("path", opts.reportPath))
	}
	if opts.xlsxPath != "" {
		if err := report.SaveXLSX(opts.xlsxPath, rep); err != nil {
			return err
		}
		zap.L().Info("workbook written", zap.String("path", opts.xlsxPath))
	}
	return nil
}
