// Package pipeline compiles a loaded configuration model into executor
// tasks. Each block becomes one task whose action evaluates the block's
// arguments against the outputs of its ancestors, performs the block's work
// and publishes its own outputs for its dependents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/remotebox/internal/config"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/dag"
	hclload "github.com/specialistvlad/remotebox/internal/hcl"
	"github.com/specialistvlad/remotebox/internal/localexecutor"
	"github.com/specialistvlad/remotebox/internal/node"
	"github.com/specialistvlad/remotebox/internal/registry"
	"github.com/specialistvlad/remotebox/internal/resource"
	"github.com/specialistvlad/remotebox/internal/sshconn"
)

// Environment carries the collaborators node actions use.
type Environment struct {
	Registry  *registry.Registry
	Resources *resource.Manager
	// Store records tunnel sessions so they can be stopped later. May be nil.
	Store  resource.Store
	Dialer *sshconn.Dialer
	Runner localexecutor.Runner
}

// ReferenceError reports an expression that refers to a node which is not
// guaranteed to have finished when the referring node runs.
type ReferenceError struct {
	Node      string
	Reference string
	Declared  bool
}

func (e *ReferenceError) Error() string {
	if !e.Declared {
		return fmt.Sprintf("%s refers to %s, which is not declared", e.Node, e.Reference)
	}
	return fmt.Sprintf("%s refers to %s, which is not among its dependencies; add it to depends_on", e.Node, e.Reference)
}

// Pipeline is a compiled model ready to run.
type Pipeline struct {
	model *config.Model
	env   Environment
	scope *hclload.Scope
	tasks []node.Task

	mu    sync.Mutex
	conns map[string]sshconn.Connection
}

// Validate checks the model's structure without running or configuring
// anything: the dependency graph, argument names, references and resource
// kinds. All problems found are returned together.
func Validate(model *config.Model, reg *registry.Registry) error {
	specs := make([]dag.Spec, 0, len(model.Nodes))
	for _, n := range model.Nodes {
		specs = append(specs, dag.Spec{Name: n.Address(), DependsOn: n.DependsOn})
	}
	g, err := dag.Build(specs)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range model.Providers {
		if !reg.HasProvider(p.Name) {
			errs = append(errs, fmt.Errorf("provider %q is not supported", p.Name))
		}
	}

	for _, n := range model.Nodes {
		addr := n.Address()
		if n.Type == config.BlockResource && !reg.HasKind(n.Kind) {
			errs = append(errs, fmt.Errorf("%s: unknown resource kind %q (known: %v)", addr, n.Kind, reg.Kinds()))
		}
		if schema := argsFor(n.Type); schema != nil {
			if err := hclload.CheckArguments(n.Arguments, schema); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			}
		}
		if _, err := retryPolicy(n.Retry); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}

		ancestors, _ := g.Ancestors(addr)
		for _, name := range sortedArgNames(n) {
			refs, err := hclload.References(n.Arguments[name])
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
				continue
			}
			for _, ref := range refs {
				if !g.Has(ref) {
					errs = append(errs, &ReferenceError{Node: addr, Reference: ref})
				} else if !ancestors[ref] {
					errs = append(errs, &ReferenceError{Node: addr, Reference: ref, Declared: true})
				}
			}
		}
		if expr, ok := n.Arguments["connection"]; ok && n.Type != config.BlockConnection {
			if ref, err := hclload.AddressOf(expr); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			} else if target := model.Node(ref); target != nil && target.Type != config.BlockConnection {
				errs = append(errs, fmt.Errorf("%s: connection must refer to a connection block, got %s", addr, ref))
			}
		}
	}

	for _, o := range model.Outputs {
		refs, err := hclload.References(o.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("output %q: %w", o.Name, err))
			continue
		}
		for _, ref := range refs {
			if !g.Has(ref) {
				errs = append(errs, &ReferenceError{Node: "output." + o.Name, Reference: ref})
			}
		}
	}
	return errors.Join(errs...)
}

// Compile validates the model, configures its providers and builds one task
// per block.
func Compile(ctx context.Context, model *config.Model, env Environment) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	if err := Validate(model, env.Registry); err != nil {
		return nil, err
	}

	p := &Pipeline{
		model: model,
		env:   env,
		scope: hclload.NewScope(model.BaseDir),
		conns: make(map[string]sshconn.Connection),
	}

	if err := ConfigureProviders(ctx, model, env.Registry); err != nil {
		return nil, err
	}

	for _, n := range model.Nodes {
		policy, _ := retryPolicy(n.Retry)
		p.tasks = append(p.tasks, node.Task{
			Name:      n.Address(),
			DependsOn: n.DependsOn,
			Action:    p.action(n),
			Retry:     policy,
		})
	}
	logger.Debug("Pipeline compiled.", "tasks", len(p.tasks))
	return p, nil
}

// ConfigureProviders evaluates every provider block and configures the
// matching registered provider. Provider arguments may only use functions.
func ConfigureProviders(ctx context.Context, model *config.Model, reg *registry.Registry) error {
	evalCtx := hclload.NewScope(model.BaseDir).EvalContext()
	for _, prov := range model.Providers {
		args, err := hclload.EvalStrings(prov.Arguments, evalCtx)
		if err != nil {
			return fmt.Errorf("provider %q: %w", prov.Name, err)
		}
		if err := reg.Configure(ctx, prov.Name, args); err != nil {
			return err
		}
	}
	return nil
}

// Tasks returns the compiled tasks in declaration order.
func (p *Pipeline) Tasks() []node.Task {
	return p.tasks
}

// Model returns the model the pipeline was compiled from.
func (p *Pipeline) Model() *config.Model {
	return p.model
}

// Outputs evaluates every output block against the published node outputs.
// Outputs whose inputs never became available are omitted and reported in
// the returned error.
func (p *Pipeline) Outputs() (map[string]string, error) {
	evalCtx := p.scope.EvalContext()
	out := make(map[string]string, len(p.model.Outputs))
	var errs []error
	for _, o := range p.model.Outputs {
		vals, err := hclload.EvalStrings(map[string]hcl.Expression{o.Name: o.Value}, evalCtx)
		if err != nil {
			errs = append(errs, fmt.Errorf("output %q: %w", o.Name, err))
			continue
		}
		if v, ok := vals[o.Name]; ok {
			out[o.Name] = v
		}
	}
	return out, errors.Join(errs...)
}

// action wraps a block's work with argument evaluation and output publishing.
func (p *Pipeline) action(n *config.Node) node.Action {
	addr := n.Address()
	var run func(ctx context.Context, n *config.Node) (map[string]string, error)
	switch n.Type {
	case config.BlockResource:
		run = p.runResource
	case config.BlockConnection:
		run = p.runConnection
	case config.BlockProbe:
		run = p.runProbe
	case config.BlockCommand:
		run = p.runCommand
	case config.BlockCopy:
		run = p.runCopy
	case config.BlockImage:
		run = p.runImage
	case config.BlockTunnel:
		run = p.runTunnel
	case config.BlockHandoff:
		run = p.runHandoff
	}
	return func(ctx context.Context) (any, error) {
		outputs, err := run(ctx, n)
		if err != nil {
			return nil, err
		}
		p.scope.Set(addr, hclload.ObjectVal(outputs))
		return outputs, nil
	}
}

func retryPolicy(r *config.Retry) (node.RetryPolicy, error) {
	if r == nil {
		return node.RetryPolicy{}, nil
	}
	policy := node.RetryPolicy{MaxAttempts: r.Attempts}
	var err error
	if r.Interval != "" {
		if policy.Interval, err = time.ParseDuration(r.Interval); err != nil {
			return policy, fmt.Errorf("retry interval: %w", err)
		}
	}
	if r.MaxInterval != "" {
		if policy.MaxInterval, err = time.ParseDuration(r.MaxInterval); err != nil {
			return policy, fmt.Errorf("retry max_interval: %w", err)
		}
	}
	return policy, nil
}

func sortedArgNames(n *config.Node) []string {
	names := make([]string, 0, len(n.Arguments))
	for name := range n.Arguments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
