package hcloud

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	hc "github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/resource"
	"golang.org/x/crypto/ssh"
)

const (
	defaultImage = "docker-ce"
	managedLabel = "managed-by"
)

// ServerAPI is the subset of hcloud.ServerClient the provider uses.
type ServerAPI interface {
	Create(ctx context.Context, opts hc.ServerCreateOpts) (hc.ServerCreateResult, *hc.Response, error)
	GetByID(ctx context.Context, id int64) (*hc.Server, *hc.Response, error)
	DeleteWithResult(ctx context.Context, server *hc.Server) (*hc.ServerDeleteResult, *hc.Response, error)
}

// SSHKeyAPI is the subset of hcloud.SSHKeyClient the provider uses.
type SSHKeyAPI interface {
	Create(ctx context.Context, opts hc.SSHKeyCreateOpts) (*hc.SSHKey, *hc.Response, error)
	Get(ctx context.Context, idOrName string) (*hc.SSHKey, *hc.Response, error)
	GetByID(ctx context.Context, id int64) (*hc.SSHKey, *hc.Response, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*hc.SSHKey, *hc.Response, error)
	Delete(ctx context.Context, key *hc.SSHKey) (*hc.Response, error)
}

// ActionAPI waits for asynchronous API actions.
type ActionAPI interface {
	WaitFor(ctx context.Context, actions ...*hc.Action) error
}

// Provider implements resource.Provider for Hetzner Cloud.
type Provider struct {
	Servers ServerAPI
	SSHKeys SSHKeyAPI
	Actions ActionAPI
}

var _ resource.Provider = (*Provider)(nil)

func (p *Provider) Create(ctx context.Context, spec resource.Spec) (resource.Record, error) {
	switch spec.Kind {
	case KindServer:
		return p.createServer(ctx, spec)
	case KindSSHKey:
		return p.createSSHKey(ctx, spec)
	}
	return resource.Record{}, fmt.Errorf("hcloud: unsupported kind %q", spec.Kind)
}

func (p *Provider) Refresh(ctx context.Context, rec resource.Record) (resource.Record, error) {
	id, err := strconv.ParseInt(rec.ID, 10, 64)
	if err != nil {
		return resource.Record{}, fmt.Errorf("hcloud: invalid id %q: %w", rec.ID, err)
	}

	switch rec.Kind {
	case KindServer:
		server, _, err := p.Servers.GetByID(ctx, id)
		if err != nil {
			return resource.Record{}, err
		}
		if server == nil {
			return resource.Record{}, resource.ErrNotFound
		}
		rec.Outputs = serverOutputs(server)
		return rec, nil
	case KindSSHKey:
		key, _, err := p.SSHKeys.GetByID(ctx, id)
		if err != nil {
			return resource.Record{}, err
		}
		if key == nil {
			return resource.Record{}, resource.ErrNotFound
		}
		adopted := rec.Outputs["adopted"]
		rec.Outputs = keyOutputs(key)
		rec.Outputs["adopted"] = adopted
		return rec, nil
	}
	return resource.Record{}, fmt.Errorf("hcloud: unsupported kind %q", rec.Kind)
}

func (p *Provider) Delete(ctx context.Context, rec resource.Record) error {
	logger := ctxlog.FromContext(ctx).With("resource", rec.Address, "id", rec.ID)
	id, err := strconv.ParseInt(rec.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("hcloud: invalid id %q: %w", rec.ID, err)
	}

	switch rec.Kind {
	case KindServer:
		res, _, err := p.Servers.DeleteWithResult(ctx, &hc.Server{ID: id})
		if hc.IsError(err, hc.ErrorCodeNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("hcloud: deleting server %d: %w", id, err)
		}
		logger.Info("⏳ Waiting for server deletion")
		if res != nil && res.Action != nil {
			return p.Actions.WaitFor(ctx, res.Action)
		}
		return nil
	case KindSSHKey:
		if rec.Outputs["adopted"] == "true" {
			logger.Info("Leaving pre-existing SSH key in place.")
			return nil
		}
		_, err := p.SSHKeys.Delete(ctx, &hc.SSHKey{ID: id})
		if err != nil && !hc.IsError(err, hc.ErrorCodeNotFound) {
			return fmt.Errorf("hcloud: deleting ssh key %d: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("hcloud: unsupported kind %q", rec.Kind)
}

func (p *Provider) createServer(ctx context.Context, spec resource.Spec) (resource.Record, error) {
	logger := ctxlog.FromContext(ctx).With("resource", spec.Address())
	attrs := spec.Attributes

	if attrs["server_type"] == "" {
		return resource.Record{}, fmt.Errorf("hcloud_server %s: server_type is required", spec.Name)
	}
	opts := hc.ServerCreateOpts{
		Name:       orDefault(attrs["name"], spec.Name),
		ServerType: &hc.ServerType{Name: attrs["server_type"]},
		Image:      &hc.Image{Name: orDefault(attrs["image"], defaultImage)},
		UserData:   attrs["user_data"],
		Labels:     map[string]string{managedLabel: "remotebox"},
	}
	if loc := attrs["location"]; loc != "" {
		opts.Location = &hc.Location{Name: loc}
	}
	for _, ref := range splitList(attrs["ssh_keys"]) {
		key, _, err := p.SSHKeys.Get(ctx, ref)
		if err != nil {
			return resource.Record{}, fmt.Errorf("hcloud_server %s: looking up ssh key %q: %w", spec.Name, ref, err)
		}
		if key == nil {
			return resource.Record{}, fmt.Errorf("hcloud_server %s: ssh key %q not found", spec.Name, ref)
		}
		opts.SSHKeys = append(opts.SSHKeys, key)
	}

	logger.Info("▶️ Creating server", "type", opts.ServerType.Name, "image", opts.Image.Name)
	res, _, err := p.Servers.Create(ctx, opts)
	if err != nil {
		return resource.Record{}, fmt.Errorf("hcloud_server %s: %w", spec.Name, err)
	}

	actions := append([]*hc.Action{}, res.NextActions...)
	if res.Action != nil {
		actions = append([]*hc.Action{res.Action}, actions...)
	}
	if len(actions) > 0 {
		logger.Info("⏳ Waiting for server to start", "id", res.Server.ID)
		if err := p.Actions.WaitFor(ctx, actions...); err != nil {
			return resource.Record{}, fmt.Errorf("hcloud_server %s: waiting for create: %w", spec.Name, err)
		}
	}

	server, _, err := p.Servers.GetByID(ctx, res.Server.ID)
	if err != nil {
		return resource.Record{}, fmt.Errorf("hcloud_server %s: reading server: %w", spec.Name, err)
	}
	if server == nil {
		server = res.Server
	}
	logger.Info("✅ Server created", "id", server.ID, "ipv4", server.PublicNet.IPv4.IP.String())

	return resource.Record{
		Address: spec.Address(),
		Kind:    spec.Kind,
		ID:      strconv.FormatInt(server.ID, 10),
		Outputs: serverOutputs(server),
	}, nil
}

func (p *Provider) createSSHKey(ctx context.Context, spec resource.Spec) (resource.Record, error) {
	attrs := spec.Attributes
	pub := strings.TrimSpace(attrs["public_key"])
	if pub == "" {
		return resource.Record{}, fmt.Errorf("hcloud_ssh_key %s: public_key is required", spec.Name)
	}

	key, _, err := p.SSHKeys.Create(ctx, hc.SSHKeyCreateOpts{
		Name:      orDefault(attrs["name"], spec.Name),
		PublicKey: pub,
		Labels:    map[string]string{managedLabel: "remotebox"},
	})
	adopted := false
	if hc.IsError(err, hc.ErrorCodeUniquenessError) {
		// The same public key is already registered; reuse it.
		parsed, _, _, _, perr := ssh.ParseAuthorizedKey([]byte(pub))
		if perr != nil {
			return resource.Record{}, fmt.Errorf("hcloud_ssh_key %s: %w", spec.Name, err)
		}
		key, _, err = p.SSHKeys.GetByFingerprint(ctx, ssh.FingerprintLegacyMD5(parsed))
		if err == nil && key == nil {
			err = fmt.Errorf("key reported as duplicate but not found by fingerprint")
		}
		adopted = true
	}
	if err != nil {
		return resource.Record{}, fmt.Errorf("hcloud_ssh_key %s: %w", spec.Name, err)
	}

	outputs := keyOutputs(key)
	outputs["adopted"] = strconv.FormatBool(adopted)
	return resource.Record{
		Address: spec.Address(),
		Kind:    spec.Kind,
		ID:      strconv.FormatInt(key.ID, 10),
		Outputs: outputs,
	}, nil
}

func serverOutputs(s *hc.Server) map[string]string {
	out := map[string]string{
		"id":     strconv.FormatInt(s.ID, 10),
		"name":   s.Name,
		"status": string(s.Status),
	}
	if ip := s.PublicNet.IPv4.IP; ip != nil {
		out["ipv4_address"] = ip.String()
	}
	if ip := s.PublicNet.IPv6.IP; ip != nil {
		out["ipv6_address"] = ip.String()
	}
	if s.ServerType != nil {
		out["server_type"] = s.ServerType.Name
	}
	if s.Datacenter != nil && s.Datacenter.Location != nil {
		out["location"] = s.Datacenter.Location.Name
	}
	return out
}

func keyOutputs(k *hc.SSHKey) map[string]string {
	return map[string]string{
		"id":          strconv.FormatInt(k.ID, 10),
		"name":        k.Name,
		"fingerprint": k.Fingerprint,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
