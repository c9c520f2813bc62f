package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/crdt"
	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/testutil"
)

const testDoc ir.DocID = "doc-1"

func subscribe[S any](t *testing.T, b *Backend[S]) *testutil.Recorder[BackendMsg] {
	t.Helper()
	rec := testutil.NewRecorder[BackendMsg]()
	require.NoError(t, b.Subscribe(rec.Record))
	return rec
}

func setReq(t *testing.T, v *crdt.View, key string, val ir.Value) *ir.Request {
	t.Helper()
	req, err := v.Change(func(tx ir.Editor) error { return tx.Set(key, val) })
	require.NoError(t, err)
	require.NotNil(t, req)
	return req
}

// changesFor produces n sealed changes by actor, each setting key to its seq.
func changesFor(t *testing.T, actor ir.ActorID, key string, n int) []ir.Change {
	t.Helper()
	e := crdt.NewEngine()
	s := e.Init()
	v := crdt.NewView(actor)
	var out []ir.Change
	for i := 1; i <= n; i++ {
		heads := s.Heads()
		next, p, err := e.ApplyLocalChange(s, setReq(t, v, key, ir.Int(int64(i))))
		require.NoError(t, err)
		require.NoError(t, v.ApplyPatch(p))
		out = append(out, e.GetChanges(next, heads)...)
		s = next
	}
	return out
}

func TestBackend_FreshStateIsReady(t *testing.T) {
	e := crdt.NewEngine()
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()
	rec := subscribe(t, b)

	msgs := rec.WaitFor(t, 1)
	ready, ok := msgs[0].(ReadyMsg)
	require.True(t, ok, "got %T", msgs[0])
	assert.Nil(t, ready.Patch)
	assert.Equal(t, 0, ready.History)
	assert.Equal(t, testDoc, ready.DocID())
	assert.True(t, b.Ready())
}

func TestBackend_InitActorNeverOverwrites(t *testing.T) {
	e := crdt.NewEngine()
	root := ir.RootActorID(testDoc)
	b := NewBackendWithState(testDoc, e, e.Init(), WithActorID(root))
	defer b.Close()
	rec := subscribe(t, b)

	b.InitActor("someone-else")

	msgs := rec.WaitFor(t, 2)
	assert.Equal(t, ActorIDMsg{ID: testDoc, ActorID: root}, msgs[1])
	actor, ok := b.ActorID()
	assert.True(t, ok)
	assert.Equal(t, root, actor)
}

func TestBackend_InitActorAssignsWhenUnset(t *testing.T) {
	e := crdt.NewEngine()
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()
	rec := subscribe(t, b)

	b.InitActor("alice")
	msgs := rec.WaitFor(t, 2)
	assert.Equal(t, ActorIDMsg{ID: testDoc, ActorID: "alice"}, msgs[1])
}

func TestBackend_InitActorBeforeInitDeferredWithOnReady(t *testing.T) {
	b := NewBackend(testDoc, crdt.NewEngine())
	defer b.Close()
	rec := subscribe(t, b)

	b.InitActor("ignored")
	b.OnReady(func() { b.InitActor("alice") })
	require.NoError(t, b.Init(nil, ""))

	got := rec.WaitUntil(t, func(m BackendMsg) bool { _, ok := m.(ActorIDMsg); return ok })
	assert.Equal(t, ir.ActorID("alice"), got.(ActorIDMsg).ActorID)
}

func TestBackend_InitFromChanges(t *testing.T) {
	changes := changesFor(t, "alice", "n", 3)

	b := NewBackend(testDoc, crdt.NewEngine())
	defer b.Close()
	rec := subscribe(t, b)
	require.NoError(t, b.Init(changes, "alice"))

	ready := rec.WaitFor(t, 1)[0].(ReadyMsg)
	require.NotNil(t, ready.Patch)
	assert.Equal(t, 3, ready.History)
	assert.Equal(t, []string{"n"}, ready.Patch.DiffKeys())
	assert.Equal(t, clock.Clock{"alice": 3}, b.Clock())
	assert.Equal(t, []ir.Hash{changes[2].Hash}, b.Deps())

	actor, _ := b.ActorID()
	assert.Equal(t, ir.ActorID("alice"), actor)
}

func TestBackend_InitTwice(t *testing.T) {
	b := NewBackend(testDoc, crdt.NewEngine())
	defer b.Close()
	require.NoError(t, b.Init(nil, ""))
	err := b.Init(nil, "")
	assert.True(t, IsAlreadyInitializedError(err))
}

func TestBackend_ApplyLocalChange(t *testing.T) {
	e := crdt.NewEngine()
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()
	rec := subscribe(t, b)

	v := crdt.NewView("alice")
	b.ApplyLocalChange(setReq(t, v, "title", ir.String("hello")))

	msgs := rec.WaitFor(t, 2)
	lp, ok := msgs[1].(LocalPatchMsg)
	require.True(t, ok, "got %T", msgs[1])
	assert.Equal(t, int64(1), lp.Change.Seq)
	assert.Equal(t, ir.ActorID("alice"), lp.Change.Actor)
	assert.Equal(t, 1, lp.History)
	assert.Equal(t, int64(1), b.Clock().Get("alice"))
	assert.Equal(t, []ir.Hash{lp.Change.Hash}, b.Deps())
}

func TestBackend_LocalWorkQueuedBeforeInit(t *testing.T) {
	b := NewBackend(testDoc, crdt.NewEngine())
	defer b.Close()
	rec := subscribe(t, b)

	v := crdt.NewView("alice")
	b.ApplyLocalChange(setReq(t, v, "k", ir.Int(1)))
	assert.Equal(t, 0, rec.Len())

	require.NoError(t, b.Init(nil, ""))
	msgs := rec.WaitFor(t, 2)
	assert.IsType(t, ReadyMsg{}, msgs[0])
	assert.IsType(t, LocalPatchMsg{}, msgs[1])
}

func TestBackend_ZeroChangesIsContractError(t *testing.T) {
	e := crdt.NewEngine()
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()

	v := crdt.NewView("alice")
	req := setReq(t, v, "k", ir.Int(1))
	require.NoError(t, b.applyLocal(req))
	deps := b.Deps()

	// Delivering the same request twice yields no new change.
	err := b.applyLocal(req)
	require.Error(t, err)
	assert.True(t, IsChangeCountError(err))

	var ce *ContractError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.Count)
	assert.Equal(t, testDoc, ce.DocID)
	assert.Equal(t, deps, b.Deps())
	assert.Equal(t, 1, b.History())
}

// doublingEngine reports every change twice from GetChanges so a local
// request appears to produce two changes.
type doublingEngine struct {
	*crdt.Engine
}

func (d doublingEngine) GetChanges(s *crdt.State, have []ir.Hash) []ir.Change {
	cs := d.Engine.GetChanges(s, have)
	return append(cs, cs...)
}

func TestBackend_TwoChangesIsContractErrorAndNotCommitted(t *testing.T) {
	e := doublingEngine{crdt.NewEngine()}
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()
	rec := subscribe(t, b)

	v := crdt.NewView("alice")
	b.ApplyLocalChange(setReq(t, v, "k", ir.Int(1)))

	msgs := rec.WaitFor(t, 2)
	em, ok := msgs[1].(ErrorMsg)
	require.True(t, ok, "got %T", msgs[1])
	assert.True(t, IsChangeCountError(em.Err))
	assert.Contains(t, em.Err.Error(), "produced 2 changes")

	assert.Equal(t, 0, b.History())
	assert.Empty(t, b.Deps())
	assert.Equal(t, int64(0), b.Clock().Get("alice"))

	// The next request still applies against the uncommitted state.
	_, _, err := b.engine.ApplyLocalChange(mustState(t, b), &ir.Request{Actor: "alice", Seq: 1, StartOp: 1,
		Ops: []ir.Op{{Action: ir.ActionSet, Key: "k", Value: ir.Int(2)}}})
	assert.NoError(t, err)
}

func mustState(t *testing.T, b *Backend[*crdt.State]) *crdt.State {
	t.Helper()
	s, ok := b.State()
	require.True(t, ok)
	return s
}

func TestBackend_ApplyRemoteChanges(t *testing.T) {
	e := crdt.NewEngine()
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()
	rec := subscribe(t, b)

	changes := changesFor(t, "bob", "x", 2)
	b.ApplyRemoteChanges(changes)

	msgs := rec.WaitFor(t, 2)
	rp, ok := msgs[1].(RemotePatchMsg)
	require.True(t, ok, "got %T", msgs[1])
	assert.Equal(t, 2, rp.History)
	assert.Equal(t, clock.Clock{"bob": 2}, b.Clock())
	assert.Equal(t, []ir.Hash{changes[1].Hash}, b.Deps())
	assert.Len(t, b.Changes(), 2)
}

func TestBackend_RemoteClockCountsPendingChanges(t *testing.T) {
	changes := changesFor(t, "bob", "x", 2)
	e := crdt.NewEngine()

	remote := NewBackendWithState(testDoc, e, e.Init())
	defer remote.Close()
	rec := subscribe(t, remote)
	remote.ApplyRemoteChanges(changes[1:])

	msgs := rec.WaitFor(t, 2)
	rp, ok := msgs[1].(RemotePatchMsg)
	require.True(t, ok, "got %T", msgs[1])
	assert.Empty(t, rp.Applied, "bob#2 waits on bob#1")
	assert.Equal(t, 0, rp.History)

	initialized := NewBackend(testDoc, e)
	defer initialized.Close()
	require.NoError(t, initialized.Init(changes[1:], ""))

	assert.Equal(t, clock.Clock{"bob": 2}, remote.Clock())
	assert.Equal(t, initialized.Clock(), remote.Clock())
}

func TestBackend_RemotePatchCarriesAppliedChanges(t *testing.T) {
	changes := changesFor(t, "bob", "x", 3)
	e := crdt.NewEngine()
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()
	rec := subscribe(t, b)

	b.ApplyRemoteChanges(changes[:1])
	b.ApplyRemoteChanges(changes[2:])
	b.ApplyRemoteChanges(changes[1:2])

	msgs := rec.WaitFor(t, 4)
	var applied [][]ir.Change
	for _, m := range msgs[1:] {
		rp, ok := m.(RemotePatchMsg)
		require.True(t, ok, "got %T", m)
		applied = append(applied, rp.Applied)
	}
	assert.Equal(t, []ir.Change{changes[0]}, applied[0])
	assert.Empty(t, applied[1])
	assert.Equal(t, []ir.Change{changes[1], changes[2]}, applied[2], "unblocked pending change follows its dep")
}

func TestBackend_RemoteErrorReported(t *testing.T) {
	e := crdt.NewEngine()
	b := NewBackendWithState(testDoc, e, e.Init())
	defer b.Close()
	rec := subscribe(t, b)

	changes := changesFor(t, "bob", "x", 1)
	changes[0].Hash = "bogus"
	b.ApplyRemoteChanges(changes)

	msgs := rec.WaitFor(t, 2)
	em, ok := msgs[1].(ErrorMsg)
	require.True(t, ok)
	assert.ErrorIs(t, em.Err, crdt.ErrHashMismatch)
	assert.Nil(t, em.Request)
}

func TestBackend_ApplyBeforeInitReturnsNotInitialized(t *testing.T) {
	b := NewBackend(testDoc, crdt.NewEngine())
	defer b.Close()

	err := b.applyRemote(nil)
	assert.True(t, IsNotInitializedError(err))
	assert.Nil(t, b.Changes())
}
