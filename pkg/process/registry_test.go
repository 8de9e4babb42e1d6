package process_test

import (
	"errors"
	"testing"

	"github.com/andrej220/rolectl/pkg/process"
	"github.com/andrej220/rolectl/pkg/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, caps roles.HostCapabilities) *roles.Index {
	t.Helper()
	idx, err := roles.Build(caps)
	require.NoError(t, err)
	return idx
}

func names(defs []process.Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func TestResolveEndToEnd(t *testing.T) {
	idx := buildIndex(t, roles.HostCapabilities{
		"a.com": {"code": true, "app-server": true},
		"b.com": {"database": true},
	})
	reg := process.NewRegistry()
	require.NoError(t, reg.Register("code", "django", process.Definition{Status: "ps django", Restart: "restart django"}))

	defs := reg.Resolve("a.com", idx)
	require.Len(t, defs, 1)
	assert.Equal(t, "django", defs[0].Name)
	assert.Equal(t, "ps django", defs[0].Status)

	assert.Empty(t, reg.Resolve("b.com", idx))
	assert.Empty(t, reg.Resolve("unknown.com", idx))
}

func TestResolveFilter(t *testing.T) {
	idx := buildIndex(t, roles.HostCapabilities{
		"a.com": {"code": true, "app-server": true},
	})
	reg := process.NewRegistry()
	require.NoError(t, reg.Register("code", "django", process.Definition{Status: "ps django", Restart: "restart django"}))
	require.NoError(t, reg.Register("app-server", "nginx", process.Definition{Status: "ps nginx", Reload: "nginx -s reload"}))

	tests := []struct {
		name   string
		filter []string
		want   []string
	}{
		{"no filter", nil, []string{"django", "nginx"}},
		{"single match", []string{"django"}, []string{"django"}},
		{"nonexistent", []string{"nonexistent"}, []string{}},
		{"partial match", []string{"nginx", "celery"}, []string{"nginx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := reg.Resolve("a.com", idx, tt.filter...)
			require.NotNil(t, defs)
			assert.Equal(t, tt.want, names(defs))
		})
	}
}

func TestResolveDuplicateNamesLastRegisteredWins(t *testing.T) {
	idx := buildIndex(t, roles.HostCapabilities{
		"a.com": {"app-server": true, "worker": true},
	})

	reg := process.NewRegistry()
	require.NoError(t, reg.Register("worker", "worker", process.Definition{Status: "ps w1", Restart: "restart w1"}))
	require.NoError(t, reg.Register("app-server", "worker", process.Definition{Status: "ps w2", Restart: "restart w2"}))

	for i := 0; i < 20; i++ {
		defs := reg.Resolve("a.com", idx)
		require.Len(t, defs, 1)
		assert.Equal(t, "ps w2", defs[0].Status)
	}

	// re-registering under the first role moves it ahead
	require.NoError(t, reg.Register("worker", "worker", process.Definition{Status: "ps w3", Restart: "restart w3"}))
	defs := reg.Resolve("a.com", idx)
	require.Len(t, defs, 1)
	assert.Equal(t, "ps w3", defs[0].Status)
}

func TestResolveKeepsRegistrationOrder(t *testing.T) {
	idx := buildIndex(t, roles.HostCapabilities{"a.com": {"code": true, "media": true}})
	reg := process.NewRegistry()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register("code", n, process.Definition{Status: "ps " + n, Restart: "restart " + n}))
	}
	require.NoError(t, reg.Register("media", "beta", process.Definition{Status: "ps beta", Restart: "restart beta"}))

	assert.Equal(t, []string{"zeta", "alpha", "mid", "beta"}, names(reg.Resolve("a.com", idx)))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, reg.Names("code"))
	assert.Equal(t, []string{"code", "media"}, reg.Roles())
	assert.Equal(t, 4, reg.Len())
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		role string
		proc string
		def  process.Definition
	}{
		{"missing status", "code", "django", process.Definition{Restart: "restart"}},
		{"blank status", "code", "django", process.Definition{Status: "  ", Restart: "restart"}},
		{"missing reload and restart", "code", "django", process.Definition{Status: "ps"}},
		{"blank restart", "code", "django", process.Definition{Status: "ps", Restart: " "}},
		{"missing role", "", "django", process.Definition{Status: "ps", Restart: "restart"}},
		{"missing name", "code", "", process.Definition{Status: "ps", Restart: "restart"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := process.NewRegistry()
			err := reg.Register(tt.role, tt.proc, tt.def)
			require.Error(t, err)
			assert.True(t, errors.Is(err, process.ErrConfiguration))
			assert.True(t, errors.Is(err, roles.ErrConfiguration))
			var cfgErr *process.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, 0, reg.Len())
		})
	}
}

func TestRegisterAcceptsReloadOnly(t *testing.T) {
	reg := process.NewRegistry()
	require.NoError(t, reg.Register("app-server", "nginx", process.Definition{Status: "ps", Reload: "nginx -s reload"}))
	def, ok := reg.Lookup("app-server", "nginx")
	require.True(t, ok)
	assert.Equal(t, "nginx", def.Name)
}
