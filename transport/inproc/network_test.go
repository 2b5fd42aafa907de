package inproc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/karupanerura/txcache"
	"github.com/karupanerura/txcache/storage/memstorage"
	"github.com/karupanerura/txcache/transaction"
	"github.com/karupanerura/txcache/transport/inproc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParticipant() (*memstorage.Store[string, int], *transaction.LocalParticipant[string, int]) {
	store := memstorage.NewInMemoryStorage[string, int]()
	return store, transaction.NewLocalParticipant[string, int](store, transaction.WithLockTimeout[string, int](100*time.Millisecond))
}

func TestTransport(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	network := inproc.NewNetwork()
	store, local := newParticipant()
	inproc.Register[string, int](network, "node-a", "cache", local)

	transport := inproc.Transport[string, int](network, "cache")
	p, err := transport.Participant("node-a")
	require.NoError(t, err)

	require.NoError(t, p.Prepare(ctx, "tx1", []txcache.Mutation[string, int]{{Key: "k", Value: 1, Version: 5}}))
	require.NoError(t, p.Commit(ctx, "tx1"))

	e, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 1, e.Value)
	assert.Equal(t, uint64(5), e.Version)

	require.NoError(t, p.Expire(ctx, "k", 5))
	assert.Equal(t, 0, store.Len())

	_, err = transport.Participant("node-b")
	assert.ErrorIs(t, err, inproc.ErrUnreachable)

	_, err = inproc.Transport[string, int](network, "other").Participant("node-a")
	assert.ErrorIs(t, err, inproc.ErrUnreachable)
}

func TestTypeMismatch(t *testing.T) {
	t.Parallel()

	network := inproc.NewNetwork()
	_, local := newParticipant()
	inproc.Register[string, int](network, "node-a", "cache", local)

	p, err := inproc.Transport[string, string](network, "cache").Participant("node-a")
	require.NoError(t, err)
	_, err = p.Get(t.Context(), "k")
	assert.ErrorIs(t, err, txcache.ErrCacheTypeMismatch)
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	network := inproc.NewNetwork()
	_, local := newParticipant()
	inproc.Register[string, int](network, "node-a", "cache", local)

	p, err := inproc.Transport[string, int](network, "cache").Participant("node-a")
	require.NoError(t, err)

	network.Disconnect("node-a")
	_, err = p.Get(ctx, "k")
	assert.ErrorIs(t, err, inproc.ErrUnreachable, "a participant obtained before the disconnect must fail too")

	network.Reconnect("node-a")
	_, err = p.Get(ctx, "k")
	assert.NoError(t, err)

	network.Unregister("node-a", "cache")
	_, err = p.Get(ctx, "k")
	assert.ErrorIs(t, err, inproc.ErrUnreachable)
}

func TestFault(t *testing.T) {
	t.Parallel()

	errInjected := errors.New("injected")

	t.Run("FailPrepare", func(t *testing.T) {
		t.Parallel()

		network := inproc.NewNetwork()
		_, local := newParticipant()
		inproc.Register[string, int](network, "node-a", "cache", local)
		network.SetFault("node-a", inproc.Fault{FailPrepare: errInjected})

		p, err := inproc.Transport[string, int](network, "cache").Participant("node-a")
		require.NoError(t, err)
		err = p.Prepare(t.Context(), "tx", []txcache.Mutation[string, int]{{Key: "k", Value: 1}})
		assert.ErrorIs(t, err, errInjected)
		assert.Zero(t, local.Prepared())
	})

	t.Run("FailCommit", func(t *testing.T) {
		t.Parallel()

		network := inproc.NewNetwork()
		store, local := newParticipant()
		inproc.Register[string, int](network, "node-a", "cache", local)

		p, err := inproc.Transport[string, int](network, "cache").Participant("node-a")
		require.NoError(t, err)
		require.NoError(t, p.Prepare(t.Context(), "tx", []txcache.Mutation[string, int]{{Key: "k", Value: 1}}))

		network.SetFault("node-a", inproc.Fault{FailCommit: errInjected})
		assert.ErrorIs(t, p.Commit(t.Context(), "tx"), errInjected)
		assert.Zero(t, local.Prepared(), "a failed commit must release the prepared transaction")
		assert.Zero(t, store.Len())

		network.SetFault("node-a", inproc.Fault{})
		require.NoError(t, p.Prepare(t.Context(), "tx2", []txcache.Mutation[string, int]{{Key: "k", Value: 2}}))
		require.NoError(t, p.Commit(t.Context(), "tx2"))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("PrepareDelay", func(t *testing.T) {
		t.Parallel()

		network := inproc.NewNetwork()
		_, local := newParticipant()
		inproc.Register[string, int](network, "node-a", "cache", local)
		network.SetFault("node-a", inproc.Fault{PrepareDelay: time.Hour})

		p, err := inproc.Transport[string, int](network, "cache").Participant("node-a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		err = p.Prepare(ctx, "tx", []txcache.Mutation[string, int]{{Key: "k", Value: 1}})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
