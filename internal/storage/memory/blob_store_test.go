package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "raw/b.json", "application/json", strings.NewReader("b"))
	require.NoError(t, err)
	require.Equal(t, "memory://raw/b.json", uri)
	_, err = store.PutObject(context.Background(), "raw/a.json", "application/json", strings.NewReader("a"))
	require.NoError(t, err)

	data, ok := store.Object("raw/b.json")
	require.True(t, ok)
	require.Equal(t, "b", string(data))
	data[0] = 'X'
	again, _ := store.Object("raw/b.json")
	require.Equal(t, "b", string(again))

	_, ok = store.Object("missing")
	require.False(t, ok)
	require.Equal(t, []string{"raw/a.json", "raw/b.json"}, store.Paths())
}
