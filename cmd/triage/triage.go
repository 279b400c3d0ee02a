package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/Triage/internal/jobs"
	"github.com/CZERTAINLY/Triage/internal/log"
	"github.com/CZERTAINLY/Triage/internal/metrics"
	"github.com/CZERTAINLY/Triage/internal/ops"
	"github.com/CZERTAINLY/Triage/internal/progress"
	"github.com/CZERTAINLY/Triage/internal/signature"
	"github.com/CZERTAINLY/Triage/internal/task"
	"github.com/CZERTAINLY/Triage/internal/workspace"
)

var (
	flagOutput            string
	flagWorkflowID        string
	flagUpdateSignatures  bool
	flagDownloadYaraForge bool
	flagCustomOnly        bool
	flagNoJSONV2          bool
)

func init() {
	for _, c := range []*cobra.Command{scanCmd, enqueueCmd} {
		c.Flags().StringVar(&flagOutput, "output", "", "directory receiving scan artifacts (default: a fresh temp directory)")
		c.Flags().StringVar(&flagWorkflowID, "workflow-id", "", "workflow identifier (default: a fresh uuid)")
		c.Flags().BoolVar(&flagUpdateSignatures, "update-signatures", false, "run the signature updater before scanning")
		c.Flags().BoolVar(&flagDownloadYaraForge, "download-yara-forge", false, "refresh the YARA Forge rule bundle before scanning")
		c.Flags().BoolVar(&flagCustomOnly, "custom-only", false, "scan with custom YARA rules and the Filescan module only")
		c.Flags().BoolVar(&flagNoJSONV2, "no-jsonv2", false, "write the legacy JSON log format")
	}
}

// doRun is the worker mode: consume scan tasks from the queue, serve
// the operational endpoints and optionally refresh signatures on a
// schedule, all until interrupted.
func doRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx,
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)

	runner := task.NewRunner(cfg)
	worker := jobs.NewWorker(cfg, runner)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if cfg.Worker.OpsAddr != "" {
		srv := ops.New(cfg.Worker.OpsAddr)
		g.Go(func() error {
			return srv.Run(ctx)
		})
		slog.InfoContext(ctx, "ops endpoints serving", "addr", cfg.Worker.OpsAddr)
	}
	if cfg.Worker.SignatureRefreshCron != "" {
		stopCron, err := startSignatureRefresh(ctx, cfg.Worker.SignatureRefreshCron)
		if err != nil {
			return err
		}
		defer stopCron()
	}

	slog.InfoContext(ctx, "worker started", "queue", cfg.Worker.Queue, "concurrency", cfg.Worker.Concurrency)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// doScan executes one scan in-process and prints the result as JSON.
func doScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req, err := buildRequest(args)
	if err != nil {
		return err
	}
	ctx = log.ContextAttrs(ctx,
		slog.String("cmd", "scan"),
		slog.String("workflow_id", req.WorkflowID),
		slog.Int("pid", os.Getpid()),
	)

	res, err := task.NewRunner(cfg).Run(ctx, req, progress.LogReporter{})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// doEnqueue submits one scan to the queue and prints its task id.
func doEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	req, err := buildRequest(args)
	if err != nil {
		return err
	}

	client := jobs.NewClient(cfg)
	defer func() {
		_ = client.Close()
	}()

	id, err := client.EnqueueScan(ctx, jobs.ScanPayload{
		WorkflowID: req.WorkflowID,
		OutputPath: req.OutputPath,
		Inputs:     req.Inputs,
		Options:    req.Options,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "task: %s\nworkflow: %s\nprogress channel: %s\n",
		id, req.WorkflowID, jobs.ProgressChannel(req.WorkflowID))
	return nil
}

func buildRequest(args []string) (task.Request, error) {
	output := flagOutput
	if output == "" {
		var err error
		output, err = os.MkdirTemp("", "triage-out-*")
		if err != nil {
			return task.Request{}, fmt.Errorf("creating output directory: %w", err)
		}
		slog.Info("scan artifacts directory", "path", output)
	}

	workflowID := flagWorkflowID
	if workflowID == "" {
		workflowID = uuid.New().String()
	}

	inputs := make([]workspace.Input, 0, len(args))
	for _, a := range args {
		inputs = append(inputs, workspace.Input{Path: a})
	}

	jsonV2 := !flagNoJSONV2
	return task.Request{
		WorkflowID: workflowID,
		OutputPath: output,
		Inputs:     inputs,
		Options: task.Options{
			UpdateSignatures:  flagUpdateSignatures,
			JSONV2:            &jsonV2,
			CustomOnly:        flagCustomOnly,
			DownloadYaraForge: flagDownloadYaraForge,
		},
	}, nil
}

// startSignatureRefresh schedules a periodic run of the signature
// updater. The returned func shuts the scheduler down.
func startSignatureRefresh(ctx context.Context, cron string) (func(), error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}

	updater := signature.NewUpdater(cfg.Thor.UtilBinary)
	_, err = sched.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(func() {
			slog.InfoContext(ctx, "scheduled signature refresh starting")
			if err := updater.Update(ctx); err != nil {
				slog.WarnContext(ctx, "scheduled signature refresh failed", "error", err)
				metrics.SignatureUpdatesTotal.WithLabelValues("failed").Inc()
				return
			}
			metrics.SignatureUpdatesTotal.WithLabelValues("ok").Inc()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}

	sched.Start()
	slog.InfoContext(ctx, "signature refresh scheduled", "cron", cron)
	return func() {
		if err := sched.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}, nil
}
