package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chessrelay/internal/store"
)

func openTestGateway(t *testing.T) *store.Gateway {
	t.Helper()
	g, err := store.Open(store.Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestLoadAllEmptyDatabase(t *testing.T) {
	g := openTestGateway(t)
	rows, maxID, err := g.LoadAll()
	require.NoError(t, err)
	require.Empty(t, rows)
	require.EqualValues(t, 0, maxID)
}

func TestReplaceAllThenLoadAllRoundTrip(t *testing.T) {
	g := openTestGateway(t)

	want := []store.Row{
		{ID: 1, IP: "127.0.0.1", Name: "alice", Password: "hash-a", Games: 3, Zero: 1, Half: 0, One: 2, Rating: 1050, Weight: 38, LastLogin: "2026.01.01.10:00:00"},
		{ID: 2, IP: "127.0.0.1", Name: "bob", Password: "hash-b", Games: 1, Zero: 0, Half: 1, One: 0, Rating: 980, Weight: 40, LastLogin: "2026.01.01.10:05:00"},
	}
	require.NoError(t, g.ReplaceAll(want))

	got, maxID, err := g.LoadAll()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.EqualValues(t, 2, maxID)

	byID := map[int64]store.Row{}
	for _, r := range got {
		byID[r.ID] = r
	}
	require.Equal(t, "alice", byID[1].Name)
	require.Equal(t, 1050, byID[1].Rating)
	require.Equal(t, "bob", byID[2].Name)
}

func TestReplaceAllClearsPreviousRows(t *testing.T) {
	g := openTestGateway(t)

	require.NoError(t, g.ReplaceAll([]store.Row{
		{ID: 1, Name: "alice", Password: "hash-a", Rating: 1000, Weight: 40},
	}))
	require.NoError(t, g.ReplaceAll([]store.Row{
		{ID: 2, Name: "bob", Password: "hash-b", Rating: 1000, Weight: 40},
	}))

	got, _, err := g.LoadAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "bob", got[0].Name)
}
