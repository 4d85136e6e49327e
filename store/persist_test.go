package store_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-tree/store"
)

type lockedPersister struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func (l *lockedPersister) LoadState() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data, nil
}

func (l *lockedPersister) SaveState(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saves++
	l.data = data
	return nil
}

func (l *lockedPersister) Saves() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saves
}

func TestDebouncedPersister_Coalesces(t *testing.T) {
	inner := &lockedPersister{}
	p := store.NewDebouncedPersister(inner, 20*time.Millisecond)
	s := store.New(store.WithPersister(p))

	for i := 1; i <= 10; i++ {
		s.SetPanOffset(s.State().PanOffset)
		s.SetZoomLevel(float64(i) / 10)
	}

	assert.Eventually(t, func() bool { return inner.Saves() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, inner.Saves())

	restored := store.New(store.WithPersister(p))
	require.NoError(t, restored.Load())
	assert.Equal(t, 1.0, restored.State().ZoomLevel)
}

func TestDebouncedPersister_Flush(t *testing.T) {
	inner := &lockedPersister{}
	p := store.NewDebouncedPersister(inner, time.Hour)
	s := store.New(store.WithPersister(p))

	require.NoError(t, p.Flush())
	assert.Equal(t, 0, inner.Saves(), "nothing pending")

	s.SetWalletFilter("0xab")
	assert.Equal(t, 0, inner.Saves())
	require.NoError(t, p.Flush())
	assert.Equal(t, 1, inner.Saves())
	assert.Contains(t, string(inner.data), `"walletFilter":"0xab"`)
}
