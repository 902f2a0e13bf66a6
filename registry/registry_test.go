package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	id     string
	closed bool
}

func (c *fakeConnection) Close(context.Context) error {
	c.closed = true
	return nil
}

// Testable property 5 / scenario S6: concurrent connect calls for the same
// account observe the same Connection instance, and the opener runs
// exactly once.
func TestConnectSerializesConcurrentOpenersForSameAccount(t *testing.T) {
	reg := New[*fakeConnection]()

	var opens int64
	open := func(ctx context.Context, accountID string) (*fakeConnection, error) {
		atomic.AddInt64(&opens, 1)
		return &fakeConnection{id: accountID}, nil
	}

	const callers = 20
	results := make([]*fakeConnection, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			conn, err := reg.Connect(context.Background(), "acct-1", open)
			require.NoError(t, err)
			results[i] = conn
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&opens))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestConnectReturnsDistinctConnectionsForDistinctAccounts(t *testing.T) {
	reg := New[*fakeConnection]()
	open := func(ctx context.Context, accountID string) (*fakeConnection, error) {
		return &fakeConnection{id: accountID}, nil
	}

	c1, err := reg.Connect(context.Background(), "acct-1", open)
	require.NoError(t, err)
	c2, err := reg.Connect(context.Background(), "acct-2", open)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
}

func TestRemoveAllowsReopeningAfterClose(t *testing.T) {
	reg := New[*fakeConnection]()
	var opens int64
	open := func(ctx context.Context, accountID string) (*fakeConnection, error) {
		atomic.AddInt64(&opens, 1)
		return &fakeConnection{id: accountID}, nil
	}

	c1, err := reg.Connect(context.Background(), "acct-1", open)
	require.NoError(t, err)
	require.NoError(t, c1.Close(context.Background()))
	reg.Remove("acct-1")

	c2, err := reg.Connect(context.Background(), "acct-1", open)
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&opens))
	assert.NotSame(t, c1, c2)
}
