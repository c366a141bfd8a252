package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// BlockType names a kind of executable block.
type BlockType string

const (
	BlockResource   BlockType = "resource"
	BlockConnection BlockType = "connection"
	BlockProbe      BlockType = "probe"
	BlockCommand    BlockType = "command"
	BlockCopy       BlockType = "copy"
	BlockImage      BlockType = "image"
	BlockTunnel     BlockType = "tunnel"
	BlockHandoff    BlockType = "handoff"
)

// BlockTypes lists every executable block type in declaration order.
var BlockTypes = []BlockType{
	BlockResource,
	BlockConnection,
	BlockProbe,
	BlockCommand,
	BlockCopy,
	BlockImage,
	BlockTunnel,
	BlockHandoff,
}

// IsBlockType reports whether s names an executable block type.
func IsBlockType(s string) bool {
	for _, t := range BlockTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Model is the unified, format-agnostic representation of a pipeline.
type Model struct {
	// BaseDir is the directory relative paths in the pipeline resolve against.
	BaseDir   string
	Settings  *Settings
	Providers []*Provider
	Nodes     []*Node
	Outputs   []*Output
}

// Settings holds pipeline-wide options.
type Settings struct {
	// Name identifies the pipeline in the state store. Defaults to the base
	// name of the pipeline directory.
	Name string
	// KnownHosts overrides the known_hosts file used for host key trust.
	KnownHosts string
	// Workers caps concurrently running nodes. Zero means one per node.
	Workers int
}

// Provider is the format-agnostic representation of a `provider` block.
type Provider struct {
	Name      string
	Arguments map[string]hcl.Expression
}

// Node is the format-agnostic representation of any executable block.
type Node struct {
	Type BlockType
	// Kind is the resource kind for resource blocks and empty otherwise.
	Kind      string
	Name      string
	Arguments map[string]hcl.Expression
	DependsOn []string
	Retry     *Retry
	DeclRange hcl.Range
}

// Address returns the node's unique identifier, e.g.
// `resource.hcloud_server.box` or `probe.box`.
func (n *Node) Address() string {
	if n.Type == BlockResource {
		return fmt.Sprintf("%s.%s.%s", n.Type, n.Kind, n.Name)
	}
	return fmt.Sprintf("%s.%s", n.Type, n.Name)
}

// Retry is the format-agnostic representation of a `retry` block.
type Retry struct {
	Attempts    int
	Interval    string
	MaxInterval string
}

// Output is the format-agnostic representation of an `output` block.
type Output struct {
	Name        string
	Description string
	Value       hcl.Expression
}

// Node returns the node declared at address, or nil.
func (m *Model) Node(address string) *Node {
	for _, n := range m.Nodes {
		if n.Address() == address {
			return n
		}
	}
	return nil
}

// Provider returns the provider block named name, or nil.
func (m *Model) Provider(name string) *Provider {
	for _, p := range m.Providers {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ProviderName returns the provider a resource kind belongs to, which is the
// kind's prefix before the first underscore.
func ProviderName(kind string) string {
	name, _, _ := strings.Cut(kind, "_")
	return name
}
