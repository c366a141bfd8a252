package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/remotebox/internal/pipeline"
	"github.com/specialistvlad/remotebox/internal/resource"
	"github.com/specialistvlad/remotebox/internal/tunnel"
)

// DownResult lists what a teardown did.
type DownResult struct {
	Destroyed []string
	Stopped   []string
	Kept      []string
}

// Down tears the environment down in reverse creation order: sidecars are
// stopped unless their teardown policy is keep, and provider resources are
// destroyed. A failure is reported but does not stop the remaining
// teardown.
func (a *App) Down(ctx context.Context) (*DownResult, error) {
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

	reg := a.newRegistry()
	if err := pipeline.ConfigureProviders(ctx, model, reg); err != nil {
		return nil, &ConfigError{Err: err}
	}
	records := store.ForPipeline(model.Settings.Name)
	mgr := resource.NewManager(reg, records)
	sidecars := &tunnel.Manager{Runtime: &tunnel.DockerCLI{Runner: a.runner}}

	recs, err := records.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		a.logger.Info("Nothing to tear down.")
	}

	res := &DownResult{}
	var errs []error
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if rec.Kind != pipeline.KindTunnel {
			if err := mgr.Destroy(ctx, rec); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Destroyed = append(res.Destroyed, rec.Address)
			continue
		}

		if rec.Outputs["teardown"] == pipeline.TeardownKeep {
			a.logger.Info("Leaving sidecar running.", "tunnel", rec.Address, "container", rec.ID)
			res.Kept = append(res.Kept, rec.Address)
		} else {
			s := &tunnel.Session{
				Name:        rec.Outputs["name"],
				ContainerID: rec.ID,
				Status:      tunnel.Active,
				DockerHost:  rec.Outputs["docker_host"],
			}
			if err := sidecars.Stop(ctx, s); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", rec.Address, err))
				continue
			}
			res.Stopped = append(res.Stopped, rec.Address)
		}
		if err := records.DeleteResource(ctx, rec.Address); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("teardown incomplete: %w", err)
	}
	a.logger.Info("🏁 Environment torn down.", "destroyed", len(res.Destroyed), "stopped", len(res.Stopped))
	return res, nil
}
