// Package store holds the observable, persisted state of a referral dashboard.
package store

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"referral-tree/logger"
	"referral-tree/models"
	"referral-tree/tree"
)

// DefaultCacheExpiry is how long loaded node data stays valid.
const DefaultCacheExpiry = 5 * time.Minute

// Zoom bounds.
const (
	MinZoom     = 0.1
	MaxZoom     = 3.0
	DefaultZoom = 1.0
)

// State is one immutable version of the store. Maps and trees are replaced,
// never mutated, so a State handed to an observer stays valid; observers must
// not modify it.
type State struct {
	// core data
	CurrentNode *models.ReferralNode
	ParentNode  *models.ReferralNode
	ChildNodes  map[string]models.ReferralNode
	TreeData    *models.TreeNode
	Stats       *models.ReferralStats

	// view
	ExpandedNodes map[string]struct{}
	SelectedNode  string
	ZoomLevel     float64
	PanOffset     models.Point
	Filters       models.Filters

	// loading flags
	IsLoading         bool
	IsLoadingChildren bool

	// cache and connection
	LastUpdated  time.Time
	CacheExpiry  time.Duration
	IsConnected  bool
	LastActivity time.Time

	// Version is the number of transitions that produced this state.
	Version uint64
}

// IsExpanded reports whether address is in the expanded set.
func (s State) IsExpanded(address string) bool {
	_, ok := s.ExpandedNodes[address]
	return ok
}

// Persister saves and restores the persisted subset of the state.
type Persister interface {
	LoadState() ([]byte, error)
	SaveState(data []byte) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, used by tests to control cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCacheExpiry overrides DefaultCacheExpiry.
func WithCacheExpiry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.state.CacheExpiry = d
		}
	}
}

// WithPersister saves the persisted subset on every change to it.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// Store is the single shared state container of a dashboard. All mutations
// are serialized; each one produces exactly one new version and one
// notification.
type Store struct {
	mu        sync.Mutex
	state     State
	observers map[int]func(State)
	nextID    int
	now       func() time.Time
	persister Persister
	log       *zap.Logger

	// undelivered versions, drained by the one goroutine in notify
	queue     []State
	notifying bool
}

// New returns a store with default view state.
func New(opts ...Option) *Store {
	s := &Store{
		state:     initialState(DefaultCacheExpiry),
		observers: make(map[int]func(State)),
		now:       time.Now,
		log:       logger.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func initialState(expiry time.Duration) State {
	return State{
		ChildNodes:    map[string]models.ReferralNode{},
		ExpandedNodes: map[string]struct{}{},
		ZoomLevel:     DefaultZoom,
		Filters:       models.DefaultFilters(),
		CacheExpiry:   expiry,
	}
}

// State returns the current version.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version counts the transitions applied so far.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version
}

// Subscribe registers fn to be called after every transition. Observers see
// versions one at a time and in order. A transition made while another
// goroutine, or an observer, is delivering notifications returns before its
// own notification is delivered. The returned func removes fn.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// update applies fn as one transition. fn returns false to report that
// nothing changed, in which case no version is produced.
func (s *Store) update(persist bool, fn func(st *State) bool) {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	s.state.Version++
	snap := s.state
	if persist && s.persister != nil {
		s.save(snap)
	}
	s.queue = append(s.queue, snap)
	if s.notifying {
		s.mu.Unlock()
		return
	}
	s.notify()
}

// notify delivers queued versions until the queue is empty. It is called
// with s.mu held and returns with it released.
func (s *Store) notify() {
	s.notifying = true
	defer func() {
		s.notifying = false
		s.mu.Unlock()
	}()

	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = State{}
		s.queue = s.queue[1:]
		observers := make([]func(State), 0, len(s.observers))
		for _, o := range s.observers {
			observers = append(observers, o)
		}

		s.mu.Unlock()
		for _, o := range observers {
			o(next)
		}
		s.mu.Lock()
	}
}

func (s *Store) save(st State) {
	data, err := MarshalPersisted(st)
	if err != nil {
		s.log.Error("Failed to encode persisted state", zap.Error(err))
		return
	}
	if err := s.persister.SaveState(data); err != nil {
		s.log.Warn("Failed to persist state", zap.Error(err))
	}
}

// Load restores the persisted subset from the persister.
func (s *Store) Load() error {
	if s.persister == nil {
		return nil
	}
	data, err := s.persister.LoadState()
	if err != nil || len(data) == 0 {
		return err
	}
	var restored State
	if err := UnmarshalPersisted(data, &restored); err != nil {
		return err
	}
	s.update(false, func(st *State) bool {
		st.Filters = restored.Filters
		st.ZoomLevel = restored.ZoomLevel
		st.PanOffset = restored.PanOffset
		st.ExpandedNodes = restored.ExpandedNodes
		return true
	})
	return nil
}

// SetCurrentNode replaces the current node and marks the cache fresh.
func (s *Store) SetCurrentNode(n *models.ReferralNode) {
	s.update(false, func(st *State) bool {
		st.CurrentNode = n
		st.LastUpdated = s.now()
		return true
	})
}

// SetParentNode replaces the parent node. It does not refresh LastUpdated.
func (s *Store) SetParentNode(n *models.ReferralNode) {
	s.update(false, func(st *State) bool {
		st.ParentNode = n
		return true
	})
}

// SetChildNode stores one node keyed by address.
func (s *Store) SetChildNode(address string, n models.ReferralNode) {
	s.update(false, func(st *State) bool {
		children := cloneNodes(st.ChildNodes, 1)
		children[address] = n
		st.ChildNodes = children
		return true
	})
}

// SetTreeData replaces the display tree.
func (s *Store) SetTreeData(t *models.TreeNode) {
	s.update(false, func(st *State) bool {
		st.TreeData = t
		return true
	})
}

// SetStats replaces the summary counters.
func (s *Store) SetStats(stats *models.ReferralStats) {
	s.update(false, func(st *State) bool {
		st.Stats = stats
		return true
	})
}

// ToggleExpandedNode adds address to the expanded set, or removes it.
func (s *Store) ToggleExpandedNode(address string) {
	s.update(true, func(st *State) bool {
		expanded := make(map[string]struct{}, len(st.ExpandedNodes)+1)
		for k := range st.ExpandedNodes {
			expanded[k] = struct{}{}
		}
		if _, ok := expanded[address]; ok {
			delete(expanded, address)
		} else {
			expanded[address] = struct{}{}
		}
		st.ExpandedNodes = expanded
		return true
	})
}

// RebuildTree rebuilds TreeData from the current and parent nodes and the
// expanded set. It does nothing before a node is loaded.
func (s *Store) RebuildTree() {
	s.update(false, func(st *State) bool {
		if st.CurrentNode == nil {
			return false
		}
		st.TreeData = tree.Build(st.CurrentNode, st.ExpandedNodes, st.ParentNode)
		return true
	})
}

// OptimisticUpdate merges patch into the child node stored under address.
// Addresses not in ChildNodes are left alone; nothing is inserted.
func (s *Store) OptimisticUpdate(address string, patch models.NodePatch) bool {
	applied := false
	s.update(false, func(st *State) bool {
		key, existing, ok := lookup(st.ChildNodes, address)
		if !ok || patch.Empty() {
			return false
		}
		children := cloneNodes(st.ChildNodes, 0)
		children[key] = patch.Apply(existing)
		st.ChildNodes = children
		applied = true
		return true
	})
	return applied
}

// RevertOptimisticUpdate drops the child node stored under address so the
// next read fetches it again. It is not an undo.
func (s *Store) RevertOptimisticUpdate(address string) {
	s.update(false, func(st *State) bool {
		key, _, ok := lookup(st.ChildNodes, address)
		if !ok {
			return false
		}
		children := cloneNodes(st.ChildNodes, 0)
		delete(children, key)
		st.ChildNodes = children
		return true
	})
}

// Loaded is the core data read for one address.
type Loaded struct {
	Current *models.ReferralNode
	Parent  *models.ReferralNode
	Nodes   []models.NodeUpdate
	Stats   *models.ReferralStats
}

// SetLoaded commits a load in one transition: current and parent nodes,
// stats, the tree rebuilt with the expanded set, and a fresh LastUpdated.
// Nodes are merged into ChildNodes when Current is the node already loaded
// and replace them otherwise. accept, when not nil, is checked under the
// store lock; if it returns false nothing is written and SetLoaded returns
// false.
func (s *Store) SetLoaded(l Loaded, accept func() bool) bool {
	committed := false
	s.update(false, func(st *State) bool {
		if accept != nil && !accept() {
			return false
		}
		var children map[string]models.ReferralNode
		if st.CurrentNode != nil && strings.EqualFold(st.CurrentNode.Player, l.Current.Player) {
			children = cloneNodes(st.ChildNodes, len(l.Nodes))
		} else {
			children = make(map[string]models.ReferralNode, len(l.Nodes))
		}
		for _, u := range l.Nodes {
			children[u.Address] = u.Node
		}

		st.CurrentNode = l.Current
		st.ParentNode = l.Parent
		st.ChildNodes = children
		st.TreeData = tree.Build(l.Current, st.ExpandedNodes, l.Parent)
		st.Stats = l.Stats
		st.LastUpdated = s.now()
		committed = true
		return true
	})
	return committed
}

// BatchUpdateNodes writes every update in a single transition.
func (s *Store) BatchUpdateNodes(updates []models.NodeUpdate) {
	if len(updates) == 0 {
		return
	}
	s.update(false, func(st *State) bool {
		children := cloneNodes(st.ChildNodes, len(updates))
		for _, u := range updates {
			children[u.Address] = u.Node
		}
		st.ChildNodes = children
		return true
	})
}

// UpdateLastUpdated marks the cache fresh.
func (s *Store) UpdateLastUpdated() {
	s.update(false, func(st *State) bool {
		st.LastUpdated = s.now()
		return true
	})
}

// IsCacheValid reports whether less than CacheExpiry has elapsed since
// LastUpdated.
func (s *Store) IsCacheValid() bool {
	s.mu.Lock()
	last, expiry := s.state.LastUpdated, s.state.CacheExpiry
	s.mu.Unlock()
	if last.IsZero() {
		return false
	}
	return s.now().Sub(last) < expiry
}

// ClearCache drops ChildNodes and LastUpdated. Current node, tree and
// filters are kept.
func (s *Store) ClearCache() {
	s.update(false, func(st *State) bool {
		st.ChildNodes = map[string]models.ReferralNode{}
		st.LastUpdated = time.Time{}
		return true
	})
}

// SetLoading sets the main loading flag.
func (s *Store) SetLoading(loading bool) {
	s.update(false, func(st *State) bool {
		if st.IsLoading == loading {
			return false
		}
		st.IsLoading = loading
		return true
	})
}

// SetLoadingChildren sets the child-read loading flag.
func (s *Store) SetLoadingChildren(loading bool) {
	s.update(false, func(st *State) bool {
		if st.IsLoadingChildren == loading {
			return false
		}
		st.IsLoadingChildren = loading
		return true
	})
}

// SetConnected records the live socket state.
func (s *Store) SetConnected(connected bool) {
	s.update(false, func(st *State) bool {
		if st.IsConnected == connected {
			return false
		}
		st.IsConnected = connected
		return true
	})
}

// TouchActivity records the time of the last live event.
func (s *Store) TouchActivity() {
	s.update(false, func(st *State) bool {
		st.LastActivity = s.now()
		return true
	})
}

// Reset clears the core data of the dashboard. View state is kept.
func (s *Store) Reset() {
	s.update(false, func(st *State) bool {
		st.CurrentNode = nil
		st.ParentNode = nil
		st.ChildNodes = map[string]models.ReferralNode{}
		st.TreeData = nil
		st.Stats = nil
		st.SelectedNode = ""
		st.LastUpdated = time.Time{}
		return true
	})
}

func lookup(nodes map[string]models.ReferralNode, address string) (string, models.ReferralNode, bool) {
	if n, ok := nodes[address]; ok {
		return address, n, true
	}
	for k, n := range nodes {
		if strings.EqualFold(k, address) {
			return k, n, true
		}
	}
	return "", models.ReferralNode{}, false
}

func cloneNodes(in map[string]models.ReferralNode, extra int) map[string]models.ReferralNode {
	out := make(map[string]models.ReferralNode, len(in)+extra)
	for k, v := range in {
		out[k] = v
	}
	return out
}
