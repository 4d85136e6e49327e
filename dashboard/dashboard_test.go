package dashboard_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tree/chain"
	"referral-tree/dashboard"
	"referral-tree/db"
	"referral-tree/models"
	"referral-tree/repository"
	"referral-tree/store"
)

const (
	addrPlayer = "0x00000000000000000000000000000000000000a1"
	addrParent = "0x00000000000000000000000000000000000000b2"
	addrRight  = "0x00000000000000000000000000000000000000c3"
	addrLeft   = "0x00000000000000000000000000000000000000d4"
	addrOther  = "0x00000000000000000000000000000000000000e5"
)

func tuple(player, parent, left, right string, balance, depth int64, unbalanced bool) []any {
	return []any{
		1700000000, balance * 1_000_000, 10, 0, 0, depth,
		player, parent, left, right,
		false, unbalanced,
	}
}

type fakeReader struct {
	mu    sync.Mutex
	nodes map[string][]any
	fail  map[string]error
	calls map[string]int
	block chan struct{} // closed when a blocked read has started
	hold  map[string]chan struct{}
}

func newFakeReader() *fakeReader {
	r := &fakeReader{
		nodes: map[string][]any{},
		fail:  map[string]error{},
		calls: map[string]int{},
		hold:  map[string]chan struct{}{},
	}
	r.nodes[addrPlayer] = tuple(addrPlayer, addrParent, models.ZeroAddress, addrRight, 5, 2, true)
	r.nodes[addrParent] = tuple(addrParent, models.ZeroAddress, addrPlayer, models.ZeroAddress, 1, 1, false)
	r.nodes[addrRight] = tuple(addrRight, addrPlayer, models.ZeroAddress, models.ZeroAddress, 3, 3, false)
	return r
}

func (r *fakeReader) ReadNode(ctx context.Context, address string) ([]any, error) {
	key := strings.ToLower(address)
	r.mu.Lock()
	r.calls[key]++
	block := r.block
	raw, ok := r.nodes[key]
	err := r.fail[key]
	hold := r.hold[key]
	r.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if block != nil {
		close(block)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return tuple(models.ZeroAddress, models.ZeroAddress, models.ZeroAddress, models.ZeroAddress, 0, 0, false), nil
	}
	return raw, nil
}

func (r *fakeReader) Calls(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[address]
}

func newService(t *testing.T, r chain.Reader, opts ...dashboard.Option) *dashboard.Service {
	t.Helper()
	svc := dashboard.NewService(r, store.New(), opts...)
	t.Cleanup(svc.Close)
	return svc
}

func TestLoad(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	repo := repository.NewNodeRepository(ldb)

	r := newFakeReader()
	svc := newService(t, r, dashboard.WithRepository(repo))
	require.NoError(t, svc.Load(context.Background(), addrPlayer))

	st := svc.Store().State()
	require.NotNil(t, st.CurrentNode)
	assert.Equal(t, addrPlayer, st.CurrentNode.Player)
	assert.Equal(t, "5", st.CurrentNode.Balance.String())
	require.NotNil(t, st.ParentNode)
	assert.Equal(t, addrParent, st.ParentNode.Player)

	require.NotNil(t, st.TreeData)
	assert.Equal(t, addrParent, st.TreeData.Address)
	require.Len(t, st.TreeData.Children, 1)
	assert.Equal(t, addrPlayer, st.TreeData.Children[0].Address)

	require.NotNil(t, st.Stats)
	assert.Equal(t, 1, st.Stats.TotalReferrals)
	assert.Contains(t, st.ChildNodes, addrPlayer)
	assert.Contains(t, st.ChildNodes, addrParent)
	assert.Contains(t, st.ChildNodes, addrRight)
	assert.False(t, st.IsLoading)
	assert.False(t, st.IsLoadingChildren)
	assert.Equal(t, addrPlayer, svc.Address())

	stored, err := repo.GetAllNodes()
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestLoad_UsesValidCache(t *testing.T) {
	r := newFakeReader()
	svc := newService(t, r)
	ctx := context.Background()

	require.NoError(t, svc.Load(ctx, addrPlayer))
	require.NoError(t, svc.Load(ctx, "0x"+strings.ToUpper(addrPlayer[2:])))
	assert.Equal(t, 1, r.Calls(addrPlayer), "valid cache skips the read")

	svc.ClearCache()
	require.NoError(t, svc.Load(ctx, addrPlayer))
	assert.Equal(t, 2, r.Calls(addrPlayer))

	require.NoError(t, svc.Refresh(ctx))
	assert.Equal(t, 3, r.Calls(addrPlayer), "refresh ignores the cache")
}

func TestLoad_Errors(t *testing.T) {
	r := newFakeReader()
	svc := newService(t, r)
	ctx := context.Background()

	err := svc.Load(ctx, "not-an-address")
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)

	err = svc.Load(ctx, addrLeft)
	assert.ErrorIs(t, err, dashboard.ErrNodeNotFound)
	assert.Nil(t, svc.Store().State().CurrentNode)
	assert.False(t, svc.Store().State().IsLoading)

	r.fail[addrPlayer] = errors.New("rpc down")
	err = svc.Load(ctx, addrPlayer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")

	assert.ErrorIs(t, svc.Refresh(ctx), dashboard.ErrNoAddress)
}

func TestLoad_NewerLoadWins(t *testing.T) {
	r := newFakeReader()
	r.nodes[addrOther] = tuple(addrOther, models.ZeroAddress, models.ZeroAddress, models.ZeroAddress, 7, 1, false)
	release := make(chan struct{})
	r.hold[addrRight] = release
	svc := newService(t, r)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- svc.Load(ctx, addrPlayer) }()
	require.Eventually(t, func() bool { return r.Calls(addrRight) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, svc.Load(ctx, addrOther))
	close(release)
	select {
	case err := <-first:
		assert.ErrorIs(t, err, dashboard.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("first load did not return")
	}

	st := svc.Store().State()
	assert.Equal(t, addrOther, st.CurrentNode.Player)
	assert.Nil(t, st.ParentNode)
	assert.Equal(t, addrOther, st.TreeData.Address)
	assert.Equal(t, "7", st.Stats.TotalBalance.String())
	assert.Len(t, st.ChildNodes, 1)
	assert.Equal(t, addrOther, svc.Address())

	// the cached shortcut serves the consistent state
	require.NoError(t, svc.Load(ctx, addrOther))
	assert.Equal(t, 1, r.Calls(addrOther))
}

func TestLoad_NewAddressReplacesChildren(t *testing.T) {
	r := newFakeReader()
	r.nodes[addrOther] = tuple(addrOther, models.ZeroAddress, models.ZeroAddress, models.ZeroAddress, 7, 1, false)
	svc := newService(t, r, dashboard.WithReconcileWindow(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, svc.Load(ctx, addrPlayer))
	require.Len(t, svc.Store().State().ChildNodes, 3)

	require.NoError(t, svc.Load(ctx, addrOther))
	children := svc.Store().State().ChildNodes
	assert.Len(t, children, 1)
	assert.Contains(t, children, addrOther)

	// nodes of the previous address no longer trigger reconciles
	svc.ScheduleReconcile(addrRight)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, r.Calls(addrOther))
}

func TestLoad_ParentFailureKeepsNode(t *testing.T) {
	r := newFakeReader()
	r.fail[addrParent] = errors.New("timeout")
	r.fail[addrRight] = errors.New("timeout")
	svc := newService(t, r)

	require.NoError(t, svc.Load(context.Background(), addrPlayer))
	st := svc.Store().State()
	assert.Nil(t, st.ParentNode)
	assert.Equal(t, addrPlayer, st.TreeData.Address, "without a parent the node is the root")
	assert.NotContains(t, st.ChildNodes, addrRight)
}

func TestClose_CancelsRead(t *testing.T) {
	r := newFakeReader()
	started := make(chan struct{})
	r.block = started
	svc := dashboard.NewService(r, store.New())

	done := make(chan error, 1)
	go func() { done <- svc.Load(context.Background(), addrPlayer) }()

	<-started
	svc.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("load did not return after Close")
	}

	assert.ErrorIs(t, svc.Load(context.Background(), addrParent), dashboard.ErrClosed)
}

func TestFilteredTree(t *testing.T) {
	svc := newService(t, newFakeReader())
	assert.Nil(t, svc.FilteredTree())

	require.NoError(t, svc.Load(context.Background(), addrPlayer))
	full := svc.FilteredTree()
	require.NotNil(t, full)
	assert.Same(t, full, svc.FilteredTree(), "unchanged store reuses the result")
	assert.Equal(t, 3, full.Count(), "parent, node and its right child")

	svc.Store().SetWalletFilter("A1")
	filtered := svc.FilteredTree()
	require.NotNil(t, filtered)
	assert.Equal(t, 2, filtered.Count(), "match keeps its ancestors")
	assert.Nil(t, filtered.Children[0].RightChild)

	svc.Store().SetWalletFilter("ffff")
	assert.Nil(t, svc.FilteredTree())
}

func TestToggleExpanded(t *testing.T) {
	svc := newService(t, newFakeReader())
	require.NoError(t, svc.Load(context.Background(), addrPlayer))
	before := svc.Store().State().TreeData

	assert.True(t, svc.ToggleExpanded(addrRight))
	after := svc.Store().State().TreeData
	assert.NotSame(t, before, after, "tree is rebuilt")
	assert.Equal(t, before.Count(), after.Count())

	assert.False(t, svc.ToggleExpanded(addrRight))
}

func TestScheduleReconcile(t *testing.T) {
	r := newFakeReader()
	svc := newService(t, r, dashboard.WithReconcileWindow(10*time.Millisecond))
	require.NoError(t, svc.Load(context.Background(), addrPlayer))

	svc.ScheduleReconcile("0x00000000000000000000000000000000000000ee")
	svc.ScheduleReconcile(addrRight)
	svc.ScheduleReconcile(addrRight)
	svc.ScheduleReconcile(addrPlayer)

	assert.Eventually(t, func() bool { return r.Calls(addrPlayer) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, r.Calls(addrPlayer), "bursts coalesce into one refresh")
}

func TestCached(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	repo := repository.NewNodeRepository(ldb)

	svc := newService(t, newFakeReader(), dashboard.WithRepository(repo))
	_, ok := svc.Cached(addrPlayer)
	assert.False(t, ok)
	require.NoError(t, svc.Load(context.Background(), addrPlayer))

	n, ok := svc.Cached(addrRight)
	require.True(t, ok)
	assert.Equal(t, int64(3), n.Depth)

	// a fresh service sees what the first one persisted
	other := newService(t, newFakeReader(), dashboard.WithRepository(repo))
	n, ok = other.Cached(addrParent)
	require.True(t, ok)
	assert.Equal(t, "1", n.Balance.String())
}
