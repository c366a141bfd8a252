package hcl

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/remotebox/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// Scope holds the published outputs of finished nodes, keyed by address.
// It is safe for concurrent use.
type Scope struct {
	mu      sync.RWMutex
	baseDir string
	values  map[string]cty.Value
}

// NewScope creates an empty scope whose file() calls resolve against baseDir.
func NewScope(baseDir string) *Scope {
	return &Scope{baseDir: baseDir, values: make(map[string]cty.Value)}
}

// Set publishes the outputs of the node at address.
func (s *Scope) Set(address string, v cty.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[address] = v
}

// Get returns the outputs published for address.
func (s *Scope) Get(address string) (cty.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[address]
	return v, ok
}

// EvalContext builds an evaluation context exposing every published node as
// a variable, e.g. `resource.hcloud_server.box.ipv4_address`.
func (s *Scope) EvalContext() *hcl.EvalContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// root -> name -> value, with resources nested one level deeper by kind.
	tree := make(map[string]map[string]cty.Value)
	kinds := make(map[string]map[string]cty.Value)
	for addr, v := range s.values {
		parts := strings.Split(addr, ".")
		if parts[0] == string(config.BlockResource) && len(parts) == 3 {
			if kinds[parts[1]] == nil {
				kinds[parts[1]] = make(map[string]cty.Value)
			}
			kinds[parts[1]][parts[2]] = v
			continue
		}
		if len(parts) != 2 {
			continue
		}
		if tree[parts[0]] == nil {
			tree[parts[0]] = make(map[string]cty.Value)
		}
		tree[parts[0]][parts[1]] = v
	}

	vars := make(map[string]cty.Value, len(tree)+1)
	for root, names := range tree {
		vars[root] = cty.ObjectVal(names)
	}
	if len(kinds) > 0 {
		byKind := make(map[string]cty.Value, len(kinds))
		for kind, names := range kinds {
			byKind[kind] = cty.ObjectVal(names)
		}
		vars[string(config.BlockResource)] = cty.ObjectVal(byKind)
	}

	return &hcl.EvalContext{
		Variables: vars,
		Functions: Functions(s.baseDir),
	}
}

// References returns the sorted, de-duplicated node addresses an expression
// refers to.
func References(expr hcl.Expression) ([]string, error) {
	set := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		addr, err := traversalAddress(traversal)
		if err != nil {
			return nil, err
		}
		set[addr] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

// AddressOf returns the address of the node an expression names directly,
// such as `connection.box`.
func AddressOf(expr hcl.Expression) (string, error) {
	traversal, diags := hcl.AbsTraversalForExpr(expr)
	if diags.HasErrors() {
		return "", fmt.Errorf("%s: expected a reference to a block: %w", expr.Range(), diags)
	}
	return traversalAddress(traversal)
}

func traversalAddress(traversal hcl.Traversal) (string, error) {
	root := traversal.RootName()
	want := 2
	if root == string(config.BlockResource) {
		want = 3
	} else if !config.IsBlockType(root) {
		return "", fmt.Errorf("%s: unknown variable %q", traversal.SourceRange(), root)
	}
	if len(traversal) < want {
		return "", fmt.Errorf("%s: incomplete reference to a %s block", traversal.SourceRange(), root)
	}
	parts := []string{root}
	for _, step := range traversal[1:want] {
		attr, ok := step.(hcl.TraverseAttr)
		if !ok {
			return "", fmt.Errorf("%s: block references must use attribute syntax", traversal.SourceRange())
		}
		parts = append(parts, attr.Name)
	}
	return strings.Join(parts, "."), nil
}
