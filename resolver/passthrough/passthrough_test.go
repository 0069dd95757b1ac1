package passthrough

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domsolutions/grpctransport/resolver"
)

func TestIPv4BuilderResolvesStaticList(t *testing.T) {
	b, ok := resolver.Get(SchemeIPv4)
	require.True(t, ok)

	r, err := b.Build(resolver.Target{Endpoint: "10.0.0.1:443,10.0.0.2:443"})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, resolver.Pull, r.Mode())

	res, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Endpoints, 2)

	host, ok := res.Endpoints[0].Addresses[0].Host()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", host)
}

func TestUnixBuilderJoinsAuthorityAndEndpoint(t *testing.T) {
	b, ok := resolver.Get(SchemeUnix)
	require.True(t, ok)

	r, err := b.Build(resolver.Target{Authority: "run", Endpoint: "app.sock"})
	require.NoError(t, err)
	defer r.Close()

	res, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Endpoints, 1)

	path, ok := res.Endpoints[0].Addresses[0].Path()
	require.True(t, ok)
	assert.Equal(t, "run/app.sock", path)
}
