package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileKV_SetGetDelete(t *testing.T) {
	t.Parallel()
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	value, err := kv.Get(ctx, "notes:p1")
	require.NoError(t, err)
	require.Nil(t, value, "missing key should read as nil")

	require.NoError(t, kv.Set(ctx, "notes:p1", []byte(`[{"id":"1"}]`)))

	value, err = kv.Get(ctx, "notes:p1")
	require.NoError(t, err)
	require.Equal(t, `[{"id":"1"}]`, string(value))

	require.NoError(t, kv.Delete(ctx, "notes:p1"))

	value, err = kv.Get(ctx, "notes:p1")
	require.NoError(t, err)
	require.Nil(t, value)

	// Deleting a missing key is not an error.
	require.NoError(t, kv.Delete(ctx, "notes:p1"))
}

func TestFileKV_KeysWithSeparators(t *testing.T) {
	t.Parallel()
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "notes:a/b", []byte("slash")))
	require.NoError(t, kv.Set(ctx, "notes:a b", []byte("space")))

	value, err := kv.Get(ctx, "notes:a/b")
	require.NoError(t, err)
	require.Equal(t, "slash", string(value))

	value, err = kv.Get(ctx, "notes:a b")
	require.NoError(t, err)
	require.Equal(t, "space", string(value))
}
