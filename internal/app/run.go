package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/events"
	"github.com/specialistvlad/remotebox/internal/executor"
	"github.com/specialistvlad/remotebox/internal/pipeline"
	"github.com/specialistvlad/remotebox/internal/resource"
	"github.com/specialistvlad/remotebox/internal/statestore"
)

// RunResult describes a finished `up`.
type RunResult struct {
	RunID   string
	Report  *executor.Report
	Outputs map[string]string
}

// Validate loads the pipeline and checks its structure without contacting
// any provider or host.
func (a *App) Validate(ctx context.Context) error {
	ctx = a.context(ctx)
	model, err := a.load(ctx)
	if err != nil {
		return err
	}
	if err := pipeline.Validate(model, a.newRegistry()); err != nil {
		return &ConfigError{Err: err}
	}
	a.logger.Info("✅ Pipeline is valid", "name", model.Settings.Name, "nodes", len(model.Nodes))
	return nil
}

// Up brings the environment up: every node runs once its dependencies are
// ready. The result is returned even when the run fails.
func (a *App) Up(ctx context.Context) (*RunResult, error) {
	ctx = a.context(ctx)
	a.logger.Debug("App.Up method started.")

	model, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.openState()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	dialer, err := a.sshDialer(model)
	if err != nil {
		return nil, err
	}
	records := store.ForPipeline(model.Settings.Name)
	reg := a.newRegistry()
	mgr := resource.NewManager(reg, records)
	defer mgr.Close()

	pl, err := pipeline.Compile(ctx, model, pipeline.Environment{
		Registry:  reg,
		Resources: mgr,
		Store:     records,
		Dialer:    dialer,
		Runner:    a.runner,
	})
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	runID := uuid.NewString()
	ctx, logger := ctxlog.With(ctx, "run", runID)
	if err := a.startHealthCheckServer(ctx); err != nil {
		return nil, err
	}
	defer a.closeHealthCheckServer(ctx)

	workers := a.config.WorkerCount
	if workers <= 0 {
		workers = model.Settings.Workers
	}
	opts := []executor.Option{
		executor.WithWorkers(workers),
		executor.WithObserver(store.Recorder(runID)),
		executor.WithObserver(a.metrics),
	}
	var publisher *events.Publisher
	if a.config.EventsURL != "" {
		client, err := events.Dial(ctx, events.Options{URL: a.config.EventsURL})
		if err != nil {
			logger.Warn("Progress events disabled.", "error", err)
		} else {
			defer client.Close()
			publisher = events.NewPublisher(client, runID)
			opts = append(opts, executor.WithObserver(publisher))
		}
	}
	exec, err := executor.New(pl.Tasks(), opts...)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	// Nothing between BeginRun and FinishRun may return early, or the run
	// stays "running".
	if err := store.BeginRun(ctx, runID, model.Settings.Name); err != nil {
		return nil, err
	}

	logger.Info("🚀 Bringing environment up", "pipeline", model.Settings.Name, "nodes", len(pl.Tasks()))
	report, runErr := exec.Run(ctx)

	outputs, outErr := pl.Outputs()
	if runErr == nil && outErr != nil {
		// Every node ran, so an output that still cannot be evaluated names
		// an attribute its block never produces.
		report.Status = executor.Failure
		runErr = outErr
	}
	a.metrics.RunFinished(report.Status)
	if publisher != nil {
		publisher.RunFinished(ctx, report.Status, outputs)
	}
	if err := store.FinishRun(context.WithoutCancel(ctx), runID, report.Status, outputs); err != nil {
		runErr = errors.Join(runErr, err)
	}

	result := &RunResult{RunID: runID, Report: report, Outputs: outputs}
	if runErr != nil {
		logger.Error("🔥 Bring-up failed", "failed", report.Failed(), "skipped", report.Skipped())
		return result, fmt.Errorf("bring-up failed: %w", runErr)
	}
	logger.Info("🏁 Environment is up.")
	return result, nil
}

// Outputs returns the outputs of the pipeline's last successful run.
func (a *App) Outputs(ctx context.Context) (map[string]string, error) {
	ctx = a.context(ctx)
	model, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.openState()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	run, err := store.LastSuccessfulRun(ctx, model.Settings.Name)
	if errors.Is(err, statestore.ErrNoRuns) {
		runs, listErr := store.Runs(ctx, model.Settings.Name)
		if listErr == nil && len(runs) > 0 {
			return nil, fmt.Errorf("pipeline %q has no successful run (last run %s: %s); run `up` first",
				model.Settings.Name, runs[0].ID, runs[0].Status)
		}
		return nil, fmt.Errorf("pipeline %q has no successful run; run `up` first", model.Settings.Name)
	}
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Outputs read from state.", "run", run.ID, "finished", run.Ended)
	return run.Outputs, nil
}
