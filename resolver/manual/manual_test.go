package manual

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domsolutions/grpctransport/address"
	"github.com/domsolutions/grpctransport/resolver"
)

func TestManualResolverDeliversUpdates(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, resolver.Push, r.Mode())

	want := resolver.Result{Endpoints: []address.Endpoint{
		{Addresses: []address.SocketAddress{address.IPv4("127.0.0.1", 50051)}},
	}}

	go r.UpdateState(want)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestManualResolverCloseEndsSequence(t *testing.T) {
	r := NewResolver()
	r.Close()

	_, err := r.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManualResolverPropagatesReportedError(t *testing.T) {
	r := NewResolver()
	boom := assert.AnError

	go r.ReportError(boom)

	_, err := r.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}
