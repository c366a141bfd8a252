package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/remotebox/internal/config"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/handoff"
	hclload "github.com/specialistvlad/remotebox/internal/hcl"
	"github.com/specialistvlad/remotebox/internal/probe"
	"github.com/specialistvlad/remotebox/internal/remote"
	"github.com/specialistvlad/remotebox/internal/resource"
	"github.com/specialistvlad/remotebox/internal/sshconn"
	"github.com/specialistvlad/remotebox/internal/tunnel"
	"golang.org/x/crypto/ssh"
)

// KindTunnel is the record kind used to remember sidecar sessions.
const KindTunnel = "tunnel"

// Teardown policies for tunnel blocks.
const (
	TeardownStop = "stop"
	TeardownKeep = "keep"
)

type connectionArgs struct {
	Host           string `arg:"host,required"`
	Port           int    `arg:"port"`
	User           string `arg:"user"`
	PrivateKeyPath string `arg:"private_key_path"`
	PrivateKey     string `arg:"private_key"`
}

type probeArgs struct {
	Connection   hcl.Expression `arg:"connection,required"`
	InitialDelay string         `arg:"initial_delay"`
	Interval     string         `arg:"interval"`
	MaxInterval  string         `arg:"max_interval"`
	MaxWait      string         `arg:"max_wait"`
}

type commandArgs struct {
	Connection hcl.Expression `arg:"connection,required"`
	Statements []string       `arg:"statements,required"`
}

type copyArgs struct {
	Connection  hcl.Expression `arg:"connection,required"`
	Source      string         `arg:"source,required"`
	Destination string         `arg:"destination,required"`
	Mode        string         `arg:"mode"`
}

type imageArgs struct {
	Tag        string            `arg:"tag,required"`
	Context    string            `arg:"context,required"`
	Dockerfile string            `arg:"dockerfile"`
	Args       map[string]string `arg:"args"`
	Labels     map[string]string `arg:"labels"`
	DockerHost string            `arg:"docker_host"`
}

type tunnelArgs struct {
	Name       string            `arg:"name"`
	Image      string            `arg:"image,required"`
	LocalPath  string            `arg:"local_path"`
	RemotePath string            `arg:"remote_path"`
	Volumes    []string          `arg:"volumes"`
	Env        map[string]string `arg:"env"`
	Restart    string            `arg:"restart"`
	DockerHost string            `arg:"docker_host"`
	Teardown   string            `arg:"teardown"`
}

type handoffArgs struct {
	Config          string            `arg:"config,required"`
	IDLabel         string            `arg:"id_label"`
	WorkspaceFolder string            `arg:"workspace_folder"`
	DockerHost      string            `arg:"docker_host"`
	MountPath       string            `arg:"mount_path"`
	Env             map[string]string `arg:"env"`
	Open            bool              `arg:"open"`
}

// argsFor returns the argument schema of a block type. Resources are
// free-form and interpreted by their provider.
func argsFor(t config.BlockType) any {
	switch t {
	case config.BlockConnection:
		return connectionArgs{}
	case config.BlockProbe:
		return probeArgs{}
	case config.BlockCommand:
		return commandArgs{}
	case config.BlockCopy:
		return copyArgs{}
	case config.BlockImage:
		return imageArgs{}
	case config.BlockTunnel:
		return tunnelArgs{}
	case config.BlockHandoff:
		return handoffArgs{}
	}
	return nil
}

func (p *Pipeline) decode(n *config.Node, target any) error {
	if err := hclload.DecodeArguments(n.Arguments, p.scope.EvalContext(), target); err != nil {
		return fmt.Errorf("%s: %w", n.Address(), err)
	}
	return nil
}

func (p *Pipeline) runResource(ctx context.Context, n *config.Node) (map[string]string, error) {
	attrs, err := hclload.EvalStrings(n.Arguments, p.scope.EvalContext())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Address(), err)
	}
	r := p.env.Resources.Create(ctx, resource.Spec{Kind: n.Kind, Name: n.Name, Attributes: attrs})
	rec, err := r.Record(ctx)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]string, len(rec.Outputs)+1)
	for k, v := range rec.Outputs {
		outputs[k] = v
	}
	outputs["id"] = rec.ID
	return outputs, nil
}

func (p *Pipeline) runConnection(ctx context.Context, n *config.Node) (map[string]string, error) {
	var args connectionArgs
	if err := p.decode(n, &args); err != nil {
		return nil, err
	}
	if args.User == "" {
		args.User = "root"
	}
	if args.Port == 0 {
		args.Port = sshconn.DefaultPort
	}

	var signer ssh.Signer
	var err error
	switch {
	case args.PrivateKey != "":
		signer, err = ssh.ParsePrivateKey([]byte(args.PrivateKey))
	case args.PrivateKeyPath != "":
		signer, err = sshconn.LoadSigner(p.path(args.PrivateKeyPath))
	default:
		err = fmt.Errorf("one of private_key or private_key_path is required")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Address(), err)
	}

	conn := sshconn.Connection{Host: args.Host, Port: args.Port, User: args.User, Signer: signer}
	p.mu.Lock()
	p.conns[n.Address()] = conn
	p.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("Connection described.", "target", conn.String())

	return map[string]string{
		"host":        conn.Host,
		"port":        strconv.Itoa(conn.Port),
		"user":        conn.User,
		"address":     conn.Address(),
		"target":      conn.Target(),
		"docker_host": "ssh://" + conn.Target(),
	}, nil
}

// connection returns the Connection published by the block expr refers to.
func (p *Pipeline) connection(expr hcl.Expression) (sshconn.Connection, error) {
	addr, err := hclload.AddressOf(expr)
	if err != nil {
		return sshconn.Connection{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[addr]
	if !ok {
		return sshconn.Connection{}, fmt.Errorf("%s has not been established", addr)
	}
	return conn, nil
}

func (p *Pipeline) runProbe(ctx context.Context, n *config.Node) (map[string]string, error) {
	var args probeArgs
	if err := p.decode(n, &args); err != nil {
		return nil, err
	}
	conn, err := p.connection(args.Connection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Address(), err)
	}

	var cfg probe.Config
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"initial_delay", args.InitialDelay, &cfg.InitialDelay},
		{"interval", args.Interval, &cfg.Interval},
		{"max_interval", args.MaxInterval, &cfg.MaxInterval},
		{"max_wait", args.MaxWait, &cfg.MaxWait},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", n.Address(), d.name, err)
		}
		*d.dst = v
	}
	// An explicit zero boot allowance means none.
	if args.InitialDelay != "" && cfg.InitialDelay == 0 {
		cfg.InitialDelay = -1
	}

	res, err := probe.New(p.env.Dialer, cfg).Wait(ctx, conn)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"address":     res.Address,
		"fingerprint": res.Fingerprint,
		"attempts":    strconv.Itoa(res.Attempts),
	}, nil
}

func (p *Pipeline) runCommand(ctx context.Context, n *config.Node) (map[string]string, error) {
	var args commandArgs
	if err := p.decode(n, &args); err != nil {
		return nil, err
	}
	conn, err := p.connection(args.Connection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Address(), err)
	}
	exec := &remote.Executor{Connector: p.env.Dialer}
	res, err := exec.Run(ctx, conn, remote.Batch{Statements: args.Statements})
	if err != nil {
		return nil, err
	}
	return map[string]string{"stdout": res.Stdout, "stderr": res.Stderr}, nil
}

func (p *Pipeline) runCopy(ctx context.Context, n *config.Node) (map[string]string, error) {
	var args copyArgs
	if err := p.decode(n, &args); err != nil {
		return nil, err
	}
	conn, err := p.connection(args.Connection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Address(), err)
	}
	mode := remote.DefaultMode
	if args.Mode != "" {
		m, err := strconv.ParseUint(args.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid mode %q: %w", n.Address(), args.Mode, err)
		}
		mode = fs.FileMode(m)
	}

	t := &remote.Transferor{Executor: &remote.Executor{Connector: p.env.Dialer}}
	f := remote.File{Source: p.path(args.Source), Destination: args.Destination, Mode: mode}
	if err := t.Copy(ctx, conn, f); err != nil {
		return nil, err
	}
	return map[string]string{
		"destination": args.Destination,
		"mode":        fmt.Sprintf("%04o", mode.Perm()),
	}, nil
}

func (p *Pipeline) runImage(ctx context.Context, n *config.Node) (map[string]string, error) {
	var args imageArgs
	if err := p.decode(n, &args); err != nil {
		return nil, err
	}
	b := &tunnel.ImageBuilder{Runtime: &tunnel.DockerCLI{Runner: p.env.Runner}}
	img, err := b.Build(ctx, tunnel.BuildSpec{
		Tag:        args.Tag,
		Context:    p.path(args.Context),
		Dockerfile: args.Dockerfile,
		Args:       args.Args,
		Labels:     args.Labels,
		DockerHost: args.DockerHost,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"ref":     img.Ref,
		"digest":  img.Digest,
		"rebuilt": strconv.FormatBool(img.Rebuilt),
	}, nil
}

func (p *Pipeline) runTunnel(ctx context.Context, n *config.Node) (map[string]string, error) {
	var args tunnelArgs
	if err := p.decode(n, &args); err != nil {
		return nil, err
	}
	restart, err := tunnel.ParseRestartPolicy(args.Restart)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Address(), err)
	}
	teardown := args.Teardown
	if teardown == "" {
		teardown = TeardownStop
	}
	if teardown != TeardownStop && teardown != TeardownKeep {
		return nil, fmt.Errorf("%s: teardown must be %q or %q", n.Address(), TeardownStop, TeardownKeep)
	}
	if args.Name == "" {
		args.Name = n.Name
	}
	if args.RemotePath == "" {
		args.RemotePath = "/workspace"
	}
	localPath := args.LocalPath
	if localPath != "" {
		localPath = p.path(localPath)
	}

	m := &tunnel.Manager{Runtime: &tunnel.DockerCLI{Runner: p.env.Runner}}
	s, err := m.Start(ctx, tunnel.Spec{
		Name:       args.Name,
		Image:      args.Image,
		Mount:      tunnel.Mount{LocalPath: localPath, RemotePath: args.RemotePath},
		Volumes:    p.volumes(args.Volumes),
		Env:        args.Env,
		Restart:    restart,
		DockerHost: args.DockerHost,
	})
	if err != nil {
		return nil, err
	}

	outputs := map[string]string{
		"container_id": s.ContainerID,
		"name":         s.Name,
		"status":       string(s.Status),
		"restart":      string(s.Restart),
		"remote_path":  s.Mount.RemotePath,
		"docker_host":  s.DockerHost,
		"teardown":     teardown,
	}
	if p.env.Store != nil {
		rec := resource.Record{Address: n.Address(), Kind: KindTunnel, ID: s.ContainerID, Outputs: outputs}
		if err := p.env.Store.SaveResource(ctx, rec); err != nil {
			return nil, fmt.Errorf("%s: recording session: %w", n.Address(), err)
		}
	}
	return outputs, nil
}

func (p *Pipeline) runHandoff(ctx context.Context, n *config.Node) (map[string]string, error) {
	var args handoffArgs
	if err := p.decode(n, &args); err != nil {
		return nil, err
	}
	if args.IDLabel == "" {
		args.IDLabel = "remotebox=" + p.model.Settings.Name
	}
	env := make([]string, 0, len(args.Env))
	for _, k := range sortedKeys(args.Env) {
		env = append(env, k+"="+args.Env[k])
	}

	inv := &handoff.Invoker{Runner: p.env.Runner}
	res, err := inv.Up(ctx, handoff.Request{
		ConfigPath:      p.path(args.Config),
		IDLabel:         args.IDLabel,
		WorkspaceFolder: args.WorkspaceFolder,
		DockerHost:      args.DockerHost,
		MountPath:       args.MountPath,
		Env:             env,
	})
	if err != nil {
		return nil, err
	}
	if args.Open {
		if err := inv.Open(ctx, res.ConnectionURI); err != nil {
			return nil, err
		}
	}
	return map[string]string{
		"container_id":   res.RemoteContainerID,
		"workspace_path": res.RemoteWorkspacePath,
		"uri":            res.ConnectionURI,
		"stdout":         res.Stdout,
	}, nil
}

// path resolves p against the pipeline directory.
func (p *Pipeline) path(s string) string {
	if s == "" || filepath.IsAbs(s) {
		return s
	}
	return filepath.Join(p.model.BaseDir, s)
}

// volumes resolves host sources written as ./ or ../ against the pipeline
// directory. Absolute paths and named volumes pass through.
func (p *Pipeline) volumes(vs []string) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		src, rest, ok := strings.Cut(v, ":")
		if ok && (strings.HasPrefix(src, "./") || strings.HasPrefix(src, "../")) {
			v = p.path(src) + ":" + rest
		}
		out[i] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
