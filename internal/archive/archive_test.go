package archive

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveCompliance(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		factory func(t *testing.T) Archive
	}{
		{
			name: "in-memory",
			factory: func(t *testing.T) Archive {
				t.Helper()
				return NewMemoryArchive()
			},
		},
		{
			name: "redis",
			factory: func(t *testing.T) Archive {
				t.Helper()
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() {
					_ = client.Close()
					mr.Close()
				})
				return NewRedisArchive(client, "test", 0)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runArchiveContract(ctx, t, tc.factory(t))
		})
	}
}

func runArchiveContract(ctx context.Context, t *testing.T, a Archive) {
	t.Helper()

	_, err := a.Get(ctx, "o/r", "1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, a.Put(ctx, "o/r", "1", "line 1\nline 2"))
	require.NoError(t, a.Put(ctx, "o/other", "1", "other"))

	body, err := a.Get(ctx, "o/r", "1")
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2", body)

	body, err = a.Get(ctx, "o/other", "1")
	require.NoError(t, err)
	assert.Equal(t, "other", body)

	require.NoError(t, a.Put(ctx, "o/r", "1", "replaced"))
	body, err = a.Get(ctx, "o/r", "1")
	require.NoError(t, err)
	assert.Equal(t, "replaced", body)
}

func TestRedisArchiveKeysAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := NewRedisArchive(client, "", time.Hour)
	require.NoError(t, a.Put(ctx, "o/r", "9", "log"))

	assert.True(t, mr.Exists("legendlog:log:o/r:9"))
	assert.Equal(t, time.Hour, mr.TTL("legendlog:log:o/r:9"))

	mr.FastForward(2 * time.Hour)
	_, err := a.Get(ctx, "o/r", "9")
	assert.ErrorIs(t, err, ErrNotFound)
}
