package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Settings    []*settingsBlock `hcl:"settings,block"`
	Providers   []*providerBlock `hcl:"provider,block"`
	Resources   []*resourceBlock `hcl:"resource,block"`
	Connections []*nodeBlock     `hcl:"connection,block"`
	Probes      []*nodeBlock     `hcl:"probe,block"`
	Commands    []*nodeBlock     `hcl:"command,block"`
	Copies      []*nodeBlock     `hcl:"copy,block"`
	Images      []*nodeBlock     `hcl:"image,block"`
	Tunnels     []*nodeBlock     `hcl:"tunnel,block"`
	Handoffs    []*nodeBlock     `hcl:"handoff,block"`
	Outputs     []*outputBlock   `hcl:"output,block"`
}

type settingsBlock struct {
	Name       string `hcl:"name,optional"`
	KnownHosts string `hcl:"known_hosts,optional"`
	Workers    int    `hcl:"workers,optional"`
}

type providerBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type resourceBlock struct {
	Kind      string      `hcl:"kind,label"`
	Name      string      `hcl:"name,label"`
	DependsOn []string    `hcl:"depends_on,optional"`
	Retry     *retryBlock `hcl:"retry,block"`
	Body      hcl.Body    `hcl:",remain"`
}

type nodeBlock struct {
	Name      string      `hcl:"name,label"`
	DependsOn []string    `hcl:"depends_on,optional"`
	Retry     *retryBlock `hcl:"retry,block"`
	Body      hcl.Body    `hcl:",remain"`
}

type retryBlock struct {
	Attempts    int    `hcl:"attempts,optional"`
	Interval    string `hcl:"interval,optional"`
	MaxInterval string `hcl:"max_interval,optional"`
}

type outputBlock struct {
	Name        string         `hcl:"name,label"`
	Value       hcl.Expression `hcl:"value"`
	Description string         `hcl:"description,optional"`
}
