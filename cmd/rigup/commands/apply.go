package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openrig/rigup/pkg/execute"
	"github.com/openrig/rigup/pkg/facts"
	"github.com/openrig/rigup/pkg/patch"
	"github.com/openrig/rigup/pkg/pkgmgr"
	"github.com/openrig/rigup/pkg/policy"
	"github.com/openrig/rigup/pkg/profile"
	"github.com/openrig/rigup/pkg/provision"
	"github.com/openrig/rigup/pkg/stores"
	"github.com/openrig/rigup/pkg/supervisor"
	"github.com/openrig/rigup/pkg/telemetry"
)

const defaultDBPath = "/var/lib/rigup/rigup.db"

func newApplyCommand() *cobra.Command {
	var (
		dryRun        bool
		fromStage     string
		policyDirs    []string
		dbPath        string
		metricsAddr   string
		traceExporter string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a provisioning profile to this host",
		Long: `Apply the profile's stages to this host in declared order.

Each step checks whether the host already satisfies it and is skipped
when it does, so repeated applies converge instead of piling up. A
failed step either aborts the run or lets it continue, depending on the
stage's failure policy; an aborted run's exit code identifies the stage
it stopped in.`,
		Example: `  # Apply the builtin workstation profile
  rigup apply

  # Show what would change without touching the host
  rigup apply --dry-run

  # Resume from a later stage after fixing a failure
  rigup apply --from-stage services`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := buildLogger()
			if err != nil {
				return err
			}
			zlog := logger.Zerolog()

			p, err := loadProfile()
			if err != nil {
				return err
			}

			polEngine, err := policy.NewEngine(zlog)
			if err != nil {
				return err
			}
			if len(policyDirs) > 0 {
				if err := polEngine.LoadPolicies(ctx, policyDirs); err != nil {
					return err
				}
			}
			polResult, err := polEngine.EvaluateProfile(ctx, p)
			if err != nil {
				return err
			}
			for _, w := range polResult.Warnings {
				logger.Warn(w)
			}
			for _, v := range polResult.Violations {
				logger.WithField("policy", v.Policy).
					WithField("severity", v.Severity).
					WithStep(v.Step).
					Warn(v.Message)
			}
			if !polResult.Allowed {
				return fmt.Errorf("policy denied apply: %d violation(s)", len(polResult.Violations))
			}

			tcfg := telemetry.DefaultConfig()
			if metricsAddr != "" {
				tcfg.Metrics.Enabled = true
				tcfg.Metrics.ListenAddress = metricsAddr
			}
			if traceExporter != "" && traceExporter != "none" {
				tcfg.Tracing.Enabled = true
				tcfg.Tracing.Exporter = traceExporter
				tcfg.Tracing.Endpoint = traceEndpoint
			}

			metrics, err := telemetry.NewMetrics(tcfg.Metrics)
			if err != nil {
				return err
			}
			if err := metrics.StartMetricsServer(); err != nil {
				return err
			}
			tracer, err := telemetry.NewTracer(tcfg.Tracing,
				tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
			if err != nil {
				return err
			}
			defer func() { _ = tracer.Shutdown(ctx) }()

			// Facts still probe the host in dry-run mode; the probe
			// runner only admits read-only commands.
			localRunner := execute.NewLocalRunner(zlog)
			probeRunner := execute.NewProbeRunner(localRunner)
			host := facts.NewCollector(probeRunner, zlog).Collect(ctx)

			var runner execute.Runner = localRunner
			copts := []profile.CompilerOption{profile.WithMetrics(metrics)}
			if dryRun {
				runner = execute.NewDryRunner(zlog)
				copts = append(copts, profile.WithDryRun())
				logger.Info("dry run: no changes will be made")
			}

			compiler := profile.NewCompiler(
				runner,
				patch.NewPatcher(),
				pkgmgr.NewInstaller(runner, zlog),
				supervisor.NewBridge(runner, zlog),
				profile.NewGuardEvaluator(0),
				host,
				zlog,
				copts...,
			)
			stages, err := compiler.Compile(p)
			if err != nil {
				return err
			}

			start := 0
			if fromStage != "" {
				start = -1
				for i, stage := range stages {
					if stage.Name == fromStage {
						start = i
						break
					}
				}
				if start < 0 {
					return fmt.Errorf("profile %s has no stage %q", p.Name, fromStage)
				}
			}

			observer := telemetry.NewRunObserver(metrics, tracer, p.Name)
			orch, err := provision.NewOrchestrator(stages, zlog,
				provision.WithObserver(observer),
				provision.WithStartStage(start))
			if err != nil {
				return err
			}

			report, err := orch.Run(ctx)
			if err != nil {
				return err
			}

			if !dryRun {
				if err := saveReport(cmd, dbPath, p.Name, report); err != nil {
					// The host is already provisioned; a ledger problem
					// is not worth failing the run over.
					logger.WithError(err).Warn("failed to record run in ledger")
				}
			}

			summary := report.Summary()
			logger.WithRunID(report.RunID).
				Infof("run %s: %d succeeded, %d skipped, %d failed",
					report.State, summary.Succeeded, summary.Skipped, summary.Failed)

			if report.State == provision.RunAborted {
				return &ExitError{
					Code: abortExitCode(report.AbortedStage),
					Message: fmt.Sprintf("run aborted in stage %q (step failures above)",
						stages[report.AbortedStage].Name),
				}
			}
			if summary.Failed > 0 {
				logger.Warnf("%d step(s) failed in continue-on-failure stages", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log intended changes without making them")
	cmd.Flags().StringVar(&fromStage, "from-stage", "", "start from the named stage, skipping earlier ones")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy directories (.rego files)")
	cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "run ledger database path")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "", "trace exporter (stdout, otlp)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP trace endpoint")

	return cmd
}

// saveReport persists the run in the SQLite ledger.
func saveReport(cmd *cobra.Command, dbPath, profileName string, report *provision.RunReport) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	ledger, err := stores.NewLedger(stores.Config{Path: dbPath})
	if err != nil {
		return err
	}
	if err := ledger.Init(cmd.Context()); err != nil {
		return err
	}
	defer ledger.Close()

	return ledger.SaveReport(cmd.Context(), profileName, report)
}
