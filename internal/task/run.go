// Package task runs one complete scan: rule preparation, workspace
// build, scanner supervision and result collection.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/CZERTAINLY/Triage/internal/config"
	"github.com/CZERTAINLY/Triage/internal/forge"
	"github.com/CZERTAINLY/Triage/internal/metrics"
	"github.com/CZERTAINLY/Triage/internal/progress"
	"github.com/CZERTAINLY/Triage/internal/signature"
	"github.com/CZERTAINLY/Triage/internal/thor"
	"github.com/CZERTAINLY/Triage/internal/workspace"
)

// Runner holds the long-lived collaborators shared by scan runs.
type Runner struct {
	cfg        config.Config
	forge      *forge.Manager
	signatures signature.Reader
	updater    signature.Updater
	clock      thor.Clock
}

func NewRunner(cfg config.Config) *Runner {
	return &Runner{
		cfg:        cfg,
		forge:      forge.New(cfg.Forge, cfg.Thor),
		signatures: signature.NewReader(cfg.Thor),
		updater:    signature.NewUpdater(cfg.Thor.UtilBinary),
	}
}

// WithClock substitutes the supervision clock, for tests.
func (r *Runner) WithClock(clock thor.Clock) *Runner {
	r.clock = clock
	return r
}

// Request describes one unit of scan work.
type Request struct {
	WorkflowID string            `json:"workflow_id"`
	OutputPath string            `json:"output_path"`
	Inputs     []workspace.Input `json:"inputs"`
	Options    Options           `json:"options"`
}

// Options are the caller-controlled run toggles. JSONV2 defaults to on
// when unset.
type Options struct {
	UpdateSignatures  bool  `json:"update_signatures"`
	JSONV2            *bool `json:"json_v2,omitempty"`
	CustomOnly        bool  `json:"custom_only"`
	DownloadYaraForge bool  `json:"download_yara_forge"`
}

func (o Options) jsonV2() bool {
	return o.JSONV2 == nil || *o.JSONV2
}

// Run executes the whole scan lifecycle and returns its terminal
// result. Progress events go to reporter as the run advances.
func (r *Runner) Run(ctx context.Context, req Request, reporter progress.Reporter) (*Result, error) {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	started := time.Now()

	res, err := r.run(ctx, req, reporter)
	metrics.ScanDuration.Observe(time.Since(started).Seconds())
	metrics.ScansTotal.WithLabelValues(outcome(res, err)).Inc()
	return res, err
}

func (r *Runner) run(ctx context.Context, req Request, reporter progress.Reporter) (*Result, error) {
	if req.OutputPath == "" {
		return nil, errors.New("output path is required")
	}
	if err := os.MkdirAll(req.OutputPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	html := NewOutputFile(req.OutputPath, htmlDisplayName, DataTypeHTMLReport)
	jsonLog := NewOutputFile(req.OutputPath, jsonDisplayName, DataTypeJSONLog)
	txtLog := NewOutputFile(req.OutputPath, textDisplayName, DataTypeTextLog)

	r.reportSignatureStatus(ctx, reporter)
	r.updateSignatures(ctx, req.Options, reporter)

	if req.Options.DownloadYaraForge {
		reporter.Report(ctx, progress.Event{Message: "Updating YARA Forge rules..."})
		if err := r.forge.Fetch(ctx); err != nil {
			return nil, err
		}
		reporter.Report(ctx, progress.Event{Message: "YARA Forge rules updated."})
	}

	ruleCount, err := r.forge.Flatten(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ForgeRulesFlattened.Set(float64(ruleCount))
	if ruleCount > 0 {
		reporter.Report(ctx, progress.Event{Message: fmt.Sprintf("Custom YARA rules loaded: %d", ruleCount)})
	}

	sigLine := r.reportSignatureStatus(ctx, reporter)

	ws, err := workspace.Prepare(ctx, req.OutputPath, req.Inputs, reporter)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ws.Close()
	}()
	reporter.Report(ctx, progress.Event{
		Message: fmt.Sprintf("Prepared %d items. Starting THOR Lite scan.", ws.Prepared),
	})

	opts := thor.Options{
		Binary:      r.cfg.Thor.Binary,
		HTMLFile:    html.Path,
		TextLogFile: txtLog.Path,
		JSONFile:    jsonLog.Path,
		RebaseDir:   req.OutputPath,
		ScanPath:    ws.Dir,
		CustomOnly:  req.Options.CustomOnly,
		JSONV2:      req.Options.jsonV2(),
		Silent:      os.Getenv(config.DebugEnv) == "",
	}

	proc, err := thor.Start(ctx, opts.Binary, opts.Args(), r.cfg.Thor.Timeout)
	if err != nil {
		return nil, err
	}

	supervisor := &thor.Supervisor{
		Interval:      r.cfg.Thor.PollInterval,
		Clock:         r.clock,
		Reporter:      reporter,
		SignatureLine: sigLine,
		CustomOnly:    req.Options.CustomOnly,
		CustomRules:   ruleCount,
	}
	hits, procRes := supervisor.Run(ctx, proc, txtLog.Path)
	metrics.RuleHitsTotal.Add(float64(hits))

	// the workspace is gone before artifacts are judged
	if err := ws.Close(); err != nil {
		slog.WarnContext(ctx, "workspace teardown failed", "error", err)
	}

	return collect(ctx, req.WorkflowID, opts.CommandString(),
		[]OutputFile{html, jsonLog, txtLog}, procRes, r.signatures.Probe(ctx))
}

// reportSignatureStatus probes fresh and reports the status line when
// one exists; it returns the line for the supervisor's use.
func (r *Runner) reportSignatureStatus(ctx context.Context, reporter progress.Reporter) string {
	line := r.signatures.Probe(ctx).Line()
	if line != "" {
		reporter.Report(ctx, progress.Event{Message: line})
	}
	return line
}

// updateSignatures runs the updater utility when requested. Failures
// degrade to warnings, the scan proceeds on the installed signatures.
func (r *Runner) updateSignatures(ctx context.Context, opts Options, reporter progress.Reporter) {
	if !opts.UpdateSignatures {
		return
	}

	reporter.Report(ctx, progress.Event{Message: "Updating THOR Lite signatures..."})
	switch err := r.updater.Update(ctx); {
	case errors.Is(err, signature.ErrUpdaterMissing):
		slog.WarnContext(ctx, "signature update skipped", "error", err)
		reporter.Report(ctx, progress.Event{Message: "Signature update skipped (updater missing)."})
		metrics.SignatureUpdatesTotal.WithLabelValues("skipped").Inc()
	case err != nil:
		slog.WarnContext(ctx, "signature update failed", "error", err)
		reporter.Report(ctx, progress.Event{Message: "Signature update failed; continuing scan."})
		metrics.SignatureUpdatesTotal.WithLabelValues("failed").Inc()
	default:
		reporter.Report(ctx, progress.Event{Message: "Signature update complete."})
		metrics.SignatureUpdatesTotal.WithLabelValues("ok").Inc()
	}
}

func outcome(res *Result, err error) string {
	switch {
	case err == nil && res != nil && len(res.Meta) > 0 && res.Meta["thor_exit_code"] != nil:
		return "degraded"
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}
