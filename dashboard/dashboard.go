// Package dashboard loads referral nodes from the chain into the store and
// keeps the derived tree, stats and filtered view in step with it.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"referral-tree/chain"
	"referral-tree/logger"
	"referral-tree/metrics"
	"referral-tree/models"
	"referral-tree/perf"
	"referral-tree/repository"
	"referral-tree/store"
	"referral-tree/tree"
)

var (
	ErrNodeNotFound = errors.New("dashboard: node not found")
	ErrNoAddress    = errors.New("dashboard: no address loaded")
	ErrClosed       = errors.New("dashboard: service closed")
	ErrSuperseded   = errors.New("dashboard: load superseded by a newer request")
)

const (
	DefaultReadTimeout = 15 * time.Second
	DefaultNodeCache   = 512
)

// Option configures a Service.
type Option func(*Service)

// WithRepository mirrors every node read into repo.
func WithRepository(repo repository.NodeRepositoryInterface) Option {
	return func(s *Service) { s.repo = repo }
}

// WithReadTimeout bounds each chain read.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithNodeCacheSize sets how many parsed nodes stay in memory.
func WithNodeCacheSize(n int) Option {
	return func(s *Service) { s.cacheSize = n }
}

// WithReconcileWindow sets the window in which reconcile requests coalesce.
func WithReconcileWindow(d time.Duration) Option {
	return func(s *Service) { s.reconcileWindow = d }
}

// Service drives one dashboard: the address being viewed, its chain reads
// and the derived data written to the store.
type Service struct {
	reader          chain.Reader
	store           *store.Store
	repo            repository.NodeRepositoryInterface
	readTimeout     time.Duration
	cacheSize       int
	reconcileWindow time.Duration

	nodes     *perf.Cache[string, models.ReferralNode]
	reconcile *perf.Debouncer
	filtered  *perf.Latest[uint64, *models.TreeNode]
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// loads counts started loads; only the latest may commit
	loads atomic.Uint64
}

// NewService returns a Service reading through reader into st.
func NewService(reader chain.Reader, st *store.Store, opts ...Option) *Service {
	s := &Service{
		reader:      reader,
		store:       st,
		readTimeout: DefaultReadTimeout,
		cacheSize:   DefaultNodeCache,
		log:         logger.Named("dashboard"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.nodes = perf.NewCache[string, models.ReferralNode](s.cacheSize)
	s.reconcile = perf.NewDebouncer(s.reconcileWindow)
	s.filtered = perf.NewLatest(func(uint64) *models.TreeNode {
		st := s.store.State()
		return tree.Apply(st.TreeData, st.Filters)
	})
	return s
}

// Store returns the store the service writes to.
func (s *Service) Store() *store.Store {
	return s.store
}

// Address returns the address of the node currently in the store.
func (s *Service) Address() string {
	if n := s.store.State().CurrentNode; n != nil {
		return n.Player
	}
	return ""
}

// Load reads address and its parent and children and replaces the store's
// core data. It does nothing when address is already loaded and the cache
// is still valid. When another load starts before this one commits, the
// newer one wins and Load returns ErrSuperseded.
func (s *Service) Load(ctx context.Context, address string) error {
	if strings.EqualFold(s.Address(), address) && s.store.IsCacheValid() {
		return nil
	}
	return s.load(ctx, address)
}

// Refresh reloads the current address regardless of cache validity.
func (s *Service) Refresh(ctx context.Context) error {
	address := s.Address()
	if address == "" {
		return ErrNoAddress
	}
	return s.load(ctx, address)
}

// ScheduleReconcile refreshes the current address after the reconcile
// window. Requests inside the window coalesce into one refresh; addresses
// outside the loaded tree are ignored.
func (s *Service) ScheduleReconcile(address string) {
	if s.ctx.Err() != nil || !s.inTree(address) {
		return
	}
	s.reconcile.Trigger(func() {
		err := s.Refresh(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSuperseded) {
			s.log.Warn("Reconcile refresh failed", zap.String("address", address), zap.Error(err))
		}
	})
}

func (s *Service) inTree(address string) bool {
	st := s.store.State()
	if st.CurrentNode == nil {
		return false
	}
	if strings.EqualFold(st.CurrentNode.Player, address) {
		return true
	}
	for k := range st.ChildNodes {
		if strings.EqualFold(k, address) {
			return true
		}
	}
	return false
}

// ToggleExpanded flips address in the expanded set and rebuilds the tree.
// It reports whether address is now expanded.
func (s *Service) ToggleExpanded(address string) bool {
	s.store.ToggleExpandedNode(address)
	s.store.RebuildTree()
	return s.store.State().IsExpanded(address)
}

// FilteredTree returns the tree with the store's filters applied. The result
// is reused until the store changes.
func (s *Service) FilteredTree() *models.TreeNode {
	return s.filtered.Get(s.store.Version())
}

// Cached returns a previously read node from memory or the repository.
func (s *Service) Cached(address string) (*models.ReferralNode, bool) {
	key := strings.ToLower(address)
	if n, ok := s.nodes.Get(key); ok {
		return &n, true
	}
	if s.repo == nil {
		return nil, false
	}
	n, err := s.repo.GetNode(address)
	if err != nil || n == nil {
		return nil, false
	}
	s.nodes.Add(key, *n)
	return n, true
}

// ClearCache drops cached child data from the store and memory.
func (s *Service) ClearCache() {
	s.nodes.Purge()
	s.store.ClearCache()
}

// Close cancels outstanding reads and pending reconciles.
func (s *Service) Close() {
	s.cancel()
	s.reconcile.Cancel()
}

func (s *Service) load(ctx context.Context, address string) error {
	if !chain.IsAddress(address) {
		return fmt.Errorf("%w: %q", chain.ErrInvalidAddress, address)
	}
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	seq := s.loads.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.store.SetLoading(true)
	defer s.store.SetLoading(false)

	current, err := s.readNode(ctx, address)
	if err != nil {
		return err
	}

	var parent *models.ReferralNode
	if current.HasParent() {
		parent, err = s.readNode(ctx, current.Parent)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("Failed to read parent node",
				zap.String("address", address),
				zap.String("parent", current.Parent),
				zap.Error(err))
			parent = nil
		}
	}

	children := s.loadChildren(ctx, current)
	if err := ctx.Err(); err != nil {
		return err
	}

	updates := make([]models.NodeUpdate, 0, len(children)+2)
	updates = append(updates, models.NodeUpdate{Address: current.Player, Node: *current})
	if parent != nil {
		updates = append(updates, models.NodeUpdate{Address: parent.Player, Node: *parent})
	}
	updates = append(updates, children...)

	stats := tree.ComputeStats(current)
	committed := s.store.SetLoaded(store.Loaded{
		Current: current,
		Parent:  parent,
		Nodes:   updates,
		Stats:   &stats,
	}, func() bool { return s.loads.Load() == seq })
	if !committed {
		return fmt.Errorf("%w: %s", ErrSuperseded, address)
	}

	s.persist(updates)
	s.log.Info("Referral node loaded",
		zap.String("address", current.Player),
		zap.Int64("depth", current.Depth),
		zap.Int("nodes", len(updates)))
	return nil
}

// loadChildren reads both children concurrently. A failed child read is
// logged and skipped.
func (s *Service) loadChildren(ctx context.Context, current *models.ReferralNode) []models.NodeUpdate {
	var addrs []string
	for _, a := range []string{current.LeftChild, current.RightChild} {
		if !models.IsZeroAddress(a) {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil
	}

	s.store.SetLoadingChildren(true)
	defer s.store.SetLoadingChildren(false)

	results := make([]*models.ReferralNode, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			n, err := s.readNode(gctx, addr)
			if err != nil {
				s.log.Warn("Failed to read child node", zap.String("address", addr), zap.Error(err))
				return nil
			}
			results[i] = n
			return nil
		})
	}
	_ = g.Wait()

	updates := make([]models.NodeUpdate, 0, len(addrs))
	for _, n := range results {
		if n != nil {
			updates = append(updates, models.NodeUpdate{Address: n.Player, Node: *n})
		}
	}
	return updates
}

func (s *Service) readNode(ctx context.Context, address string) (*models.ReferralNode, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	raw, err := s.reader.ReadNode(ctx, address)
	if err != nil {
		metrics.ChainReads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read node %s: %w", address, err)
	}
	n := chain.ParseNode(raw)
	if n == nil {
		metrics.ChainReads.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, address)
	}
	metrics.ChainReads.WithLabelValues("ok").Inc()
	s.nodes.Add(strings.ToLower(n.Player), *n)
	return n, nil
}

func (s *Service) persist(updates []models.NodeUpdate) {
	if s.repo == nil {
		return
	}
	nodes := make([]*models.ReferralNode, len(updates))
	for i := range updates {
		nodes[i] = &updates[i].Node
	}
	if err := s.repo.PutNodes(nodes); err != nil {
		s.log.Warn("Failed to persist nodes", zap.Error(err))
	}
}
