package hcl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func parseExpr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return expr
}

func TestScope_EvalContext(t *testing.T) {
	s := NewScope(t.TempDir())
	s.Set("resource.hcloud_server.box", ObjectVal(map[string]string{"ipv4_address": "203.0.113.5", "id": "42"}))
	s.Set("connection.box", ObjectVal(map[string]string{"user": "root"}))

	cases := map[string]string{
		`resource.hcloud_server.box.ipv4_address`:                             "203.0.113.5",
		`"${connection.box.user}@${resource.hcloud_server.box.ipv4_address}"`: "root@203.0.113.5",
		`format("ssh://%s@%s", connection.box.user, upper("host"))`:           "ssh://root@HOST",
		`join(",", [lower("A"), resource.hcloud_server.box.id])`:              "a,42",
	}
	for src, want := range cases {
		val, diags := parseExpr(t, src).Value(s.EvalContext())
		require.False(t, diags.HasErrors(), "%s: %s", src, diags.Error())
		assert.Equal(t, want, val.AsString(), src)
	}

	t.Run("unpublished node is an error", func(t *testing.T) {
		_, diags := parseExpr(t, `probe.box.address`).Value(s.EvalContext())
		assert.True(t, diags.HasErrors())
	})
}

func TestFunctions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id.pub"), []byte("ssh-ed25519 AAAA"), 0o600))
	t.Setenv("REMOTEBOX_TEST_VAR", "from-env")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	ctx := NewScope(dir).EvalContext()
	cases := map[string]string{
		`env("REMOTEBOX_TEST_VAR")`:       "from-env",
		`env("REMOTEBOX_TEST_UNSET_VAR")`: "",
		`file("id.pub")`:                  "ssh-ed25519 AAAA",
		`pathexpand("~/.ssh/id")`:         filepath.Join(home, ".ssh/id"),
		`pathexpand("/etc/hosts")`:        "/etc/hosts",
	}
	for src, want := range cases {
		val, diags := parseExpr(t, src).Value(ctx)
		require.False(t, diags.HasErrors(), "%s: %s", src, diags.Error())
		assert.Equal(t, want, val.AsString(), src)
	}

	_, diags := parseExpr(t, `file("missing.txt")`).Value(ctx)
	assert.True(t, diags.HasErrors())
}

func TestReferences(t *testing.T) {
	refs, err := References(parseExpr(t, `"${connection.box.user}@${resource.hcloud_server.box.ipv4_address}:${connection.box.port}"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"connection.box", "resource.hcloud_server.box"}, refs)

	refs, err = References(parseExpr(t, `"literal"`))
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = References(parseExpr(t, `var.region`))
	assert.ErrorContains(t, err, `unknown variable "var"`)

	_, err = References(parseExpr(t, `resource.hcloud_server`))
	assert.ErrorContains(t, err, "incomplete reference")
}

func TestAddressOf(t *testing.T) {
	addr, err := AddressOf(parseExpr(t, `connection.box`))
	require.NoError(t, err)
	assert.Equal(t, "connection.box", addr)

	addr, err = AddressOf(parseExpr(t, `resource.hcloud_ssh_key.me`))
	require.NoError(t, err)
	assert.Equal(t, "resource.hcloud_ssh_key.me", addr)

	_, err = AddressOf(parseExpr(t, `"connection.box"`))
	assert.Error(t, err)
}

func TestScope_GetSet(t *testing.T) {
	s := NewScope("")
	_, ok := s.Get("probe.box")
	assert.False(t, ok)
	s.Set("probe.box", cty.ObjectVal(map[string]cty.Value{"attempts": cty.NumberIntVal(3)}))
	v, ok := s.Get("probe.box")
	require.True(t, ok)
	assert.True(t, v.GetAttr("attempts").RawEquals(cty.NumberIntVal(3)))
}
