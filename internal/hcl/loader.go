package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/remotebox/internal/config"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths and merges their blocks into one
// model. Files are read in lexical order so node order is stable.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(hclFiles) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %v", paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	model := &config.Model{BaseDir: baseDir(paths[0])}
	parser := hclparse.NewParser()
	seen := make(map[string]hcl.Range)

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, s := range root.Settings {
			if model.Settings != nil {
				return nil, fmt.Errorf("%s: only one settings block is allowed", file)
			}
			model.Settings = &config.Settings{Name: s.Name, KnownHosts: s.KnownHosts, Workers: s.Workers}
		}
		for _, p := range root.Providers {
			if model.Provider(p.Name) != nil {
				return nil, fmt.Errorf("%s: duplicate provider %q", file, p.Name)
			}
			args, err := attributes(p.Body)
			if err != nil {
				return nil, fmt.Errorf("in provider %q: %w", p.Name, err)
			}
			model.Providers = append(model.Providers, &config.Provider{Name: p.Name, Arguments: args})
		}

		var nodes []*config.Node
		for _, r := range root.Resources {
			n, err := translateNode(config.BlockResource, r.Kind, r.Name, r.DependsOn, r.Retry, r.Body)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		for typ, blocks := range map[config.BlockType][]*nodeBlock{
			config.BlockConnection: root.Connections,
			config.BlockProbe:      root.Probes,
			config.BlockCommand:    root.Commands,
			config.BlockCopy:       root.Copies,
			config.BlockImage:      root.Images,
			config.BlockTunnel:     root.Tunnels,
			config.BlockHandoff:    root.Handoffs,
		} {
			for _, b := range blocks {
				n, err := translateNode(typ, "", b.Name, b.DependsOn, b.Retry, b.Body)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
			}
		}
		// Blocks of different types come back in separate slices; restore
		// the order they were written in.
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].DeclRange.Start.Byte < nodes[j].DeclRange.Start.Byte
		})
		for _, n := range nodes {
			if prev, ok := seen[n.Address()]; ok {
				return nil, fmt.Errorf("%s: duplicate block %s, first declared at %s", n.DeclRange, n.Address(), prev)
			}
			seen[n.Address()] = n.DeclRange
			model.Nodes = append(model.Nodes, n)
		}

		for _, o := range root.Outputs {
			model.Outputs = append(model.Outputs, &config.Output{Name: o.Name, Description: o.Description, Value: o.Value})
		}
	}

	if model.Settings == nil {
		model.Settings = &config.Settings{}
	}
	if model.Settings.Name == "" {
		model.Settings.Name = filepath.Base(model.BaseDir)
	}

	logger.Debug("HCL loading complete.", "providers", len(model.Providers), "nodes", len(model.Nodes), "outputs", len(model.Outputs))
	return model, nil
}

func translateNode(typ config.BlockType, kind, name string, dependsOn []string, retry *retryBlock, body hcl.Body) (*config.Node, error) {
	n := &config.Node{
		Type:      typ,
		Kind:      kind,
		Name:      name,
		DependsOn: dependsOn,
		DeclRange: bodyRange(body),
	}
	args, err := attributes(body)
	if err != nil {
		return nil, fmt.Errorf("in %s: %w", n.Address(), err)
	}
	n.Arguments = args
	if retry != nil {
		n.Retry = &config.Retry{Attempts: retry.Attempts, Interval: retry.Interval, MaxInterval: retry.MaxInterval}
	}
	return n, nil
}

// attributes converts a block's remaining body into a map of expressions.
func attributes(body hcl.Body) (map[string]hcl.Expression, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	out := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		out[name] = attr.Expr
	}
	return out, nil
}

func bodyRange(body hcl.Body) hcl.Range {
	if sb, ok := body.(*hclsyntax.Body); ok {
		return sb.SrcRange
	}
	return hcl.Range{}
}

func baseDir(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return abs
	}
	return filepath.Dir(abs)
}

// findAllHCLFiles walks all given paths and returns a flat list of all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			files, err := fsutil.RegularFiles(path, fsutil.WalkOptions{Extension: ".hcl", SkipHiddenDirs: true})
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				add(f)
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}
	return allFiles, nil
}
