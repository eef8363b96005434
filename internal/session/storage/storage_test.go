package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

func backends(t *testing.T) map[string]backend {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFile(filepath.Join(dir, "session.json"))
	require.NoError(t, err)

	lite, err := NewSQLite(filepath.Join(dir, "session.db"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return map[string]backend{
		"file":   file,
		"sqlite": lite,
		"redis":  NewRedis(rdb, "test:"),
	}
}

func TestBackends_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()

			_, ok, err := b.Get(ctx, "token")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set(ctx, map[string]string{"user": `{"userId":1}`, "token": "t1"}))

			v, ok, err := b.Get(ctx, "token")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "t1", v)

			require.NoError(t, b.Set(ctx, map[string]string{"token": "t2"}))
			v, _, _ = b.Get(ctx, "token")
			assert.Equal(t, "t2", v)
			v, _, _ = b.Get(ctx, "user")
			assert.Equal(t, `{"userId":1}`, v)

			require.NoError(t, b.Delete(ctx, "user", "token"))
			_, ok, err = b.Get(ctx, "user")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, _ = b.Get(ctx, "token")
			assert.False(t, ok)
		})
	}
}

func TestFile_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	first, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, map[string]string{"token": "persisted"}))

	second, err := NewFile(path)
	require.NoError(t, err)
	v, ok, err := second.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", v)
}

func TestRedis_UsesPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedis(rdb, "")

	require.NoError(t, store.Set(ctx, map[string]string{"token": "abc"}))
	got, err := mr.Get("parkwise:session:token")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}
