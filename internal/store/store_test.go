package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/keys"
)

// createTestStore opens a store in a temp dir and closes it on cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testChange builds a sealed single-op change.
func testChange(t *testing.T, actor ir.ActorID, seq int64, key string, v ir.Value, deps ...ir.Hash) ir.Change {
	t.Helper()
	c, err := ir.Seal(ir.Change{
		Actor:   actor,
		Seq:     seq,
		StartOp: seq,
		Deps:    deps,
		Ops:     []ir.Op{{Action: ir.ActionSet, Key: key, Value: v}},
	})
	require.NoError(t, err)
	return c
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"documents", "changes", "actors"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}

	v, err := s.userVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestCreateDoc_ListDocs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	docs, err := s.ListDocs(ctx)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	require.NoError(t, s.CreateDoc(ctx, "doc-b"))
	require.NoError(t, s.CreateDoc(ctx, "doc-a"))
	require.NoError(t, s.CreateDoc(ctx, "doc-b"))

	docs, err = s.ListDocs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.DocID{"doc-b", "doc-a"}, docs, "registration order, no duplicates")

	ok, err := s.HasDoc(ctx, "doc-a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasDoc(ctx, "doc-z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendChanges_ReadBackInOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	c1 := testChange(t, "alice", 1, "title", ir.String("draft"))
	c2 := testChange(t, "bob", 1, "count", ir.Int(1<<60), c1.Hash)
	c3 := testChange(t, "alice", 2, "tags", ir.List{ir.String("x"), ir.Bool(true)}, c2.Hash)

	n, err := s.AppendChanges(ctx, "doc", []ir.Change{c1, c2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.AppendChanges(ctx, "doc", []ir.Change{c3})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.ReadChanges(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []ir.Hash{c1.Hash, c2.Hash, c3.Hash}, []ir.Hash{got[0].Hash, got[1].Hash, got[2].Hash})
	assert.Equal(t, ir.Int(1<<60), got[1].Ops[0].Value, "large integers survive storage")

	count, err := s.CountChanges(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAppendChanges_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c1 := testChange(t, "alice", 1, "k", ir.String("v"))

	_, err := s.AppendChanges(ctx, "doc", []ir.Change{c1})
	require.NoError(t, err)
	n, err := s.AppendChanges(ctx, "doc", []ir.Change{c1, c1})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.ReadChanges(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAppendChanges_SameChangeDifferentDocs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c1 := testChange(t, "alice", 1, "k", ir.String("v"))

	for _, doc := range []ir.DocID{"doc-1", "doc-2"} {
		n, err := s.AppendChanges(ctx, doc, []ir.Change{c1})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestAppendChanges_RejectsUnsealed(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := testChange(t, "alice", 1, "k", ir.String("v"))
	c.Hash = ""

	_, err := s.AppendChanges(ctx, "doc", []ir.Change{testChange(t, "bob", 1, "k", ir.String("w")), c})
	require.Error(t, err)

	got, err := s.ReadChanges(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, got, "failed batch must not be partially committed")
}

func TestReadChanges_UnknownDoc(t *testing.T) {
	s := createTestStore(t)
	got, err := s.ReadChanges(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReadChanges_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := testChange(t, "alice", 1, "k", ir.String("v"))
	_, err := s.AppendChanges(ctx, "doc", []ir.Change{c})
	require.NoError(t, err)

	tampered := testChange(t, "alice", 1, "k", ir.String("evil"))
	tampered.Hash = c.Hash
	body, err := marshalChange(tampered)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE changes SET body = ? WHERE hash = ?`, body, string(c.Hash))
	require.NoError(t, err)

	_, err = s.ReadChanges(ctx, "doc")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSaveLoadKeys(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.LoadKeys(ctx, "doc")
	assert.ErrorIs(t, err, ErrNotFound)

	kp, err := keys.Create()
	require.NoError(t, err)
	require.NoError(t, s.SaveKeys(ctx, "doc", kp))

	got, err := s.LoadKeys(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, kp, got)

	readOnly := keys.KeyPair{PublicKey: kp.PublicKey}
	require.NoError(t, s.SaveKeys(ctx, "doc", readOnly))
	got, err = s.LoadKeys(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, readOnly, got)
	assert.False(t, got.HasSecret())
}
