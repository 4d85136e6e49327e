package repository

import (
	"encoding/json"
	"strings"

	"referral-tree/db"
	"referral-tree/models"
)

// StateKey is the fixed key of the persisted dashboard state blob.
const StateKey = "referral-dashboard-storage"

const nodePrefix = "node:"

// It abstracts the storage layer from the dashboard and the store
type NodeRepositoryInterface interface {
	PutNode(node *models.ReferralNode) error
	PutNodes(nodes []*models.ReferralNode) error
	GetNode(address string) (*models.ReferralNode, error)
	GetAllNodes() ([]*models.ReferralNode, error)
	ClearNodes() error
	LoadState() ([]byte, error)
	SaveState(data []byte) error
}

// NodeRepository implements the NodeRepositoryInterface using LevelDB as the storage backend
type NodeRepository struct {
	db *db.LevelDB
}

// NewNodeRepository creates and returns a new NodeRepository instance
func NewNodeRepository(db *db.LevelDB) *NodeRepository {
	return &NodeRepository{db: db}
}

func nodeKey(address string) []byte {
	return []byte(nodePrefix + strings.ToLower(address))
}

// PutNode caches a parsed node under its player address
func (r *NodeRepository) PutNode(node *models.ReferralNode) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return r.db.Put(nodeKey(node.Player), data)
}

// PutNodes caches several nodes in one write
func (r *NodeRepository) PutNodes(nodes []*models.ReferralNode) error {
	puts := make(map[string][]byte, len(nodes))
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		puts[string(nodeKey(n.Player))] = data
	}
	return r.db.WriteBatch(puts)
}

// GetNode retrieves a cached node by address
func (r *NodeRepository) GetNode(address string) (*models.ReferralNode, error) {
	data, err := r.db.Get(nodeKey(address))
	if err != nil {
		return nil, err
	}
	var node models.ReferralNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// GetAllNodes retrieves all cached nodes
func (r *NodeRepository) GetAllNodes() ([]*models.ReferralNode, error) {
	iter := r.db.NewPrefixIterator([]byte(nodePrefix))
	defer iter.Release()

	var nodes []*models.ReferralNode
	for iter.Next() {
		var node models.ReferralNode
		if err := json.Unmarshal(iter.Value(), &node); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, iter.Error()
}

// ClearNodes drops the node cache
func (r *NodeRepository) ClearNodes() error {
	return r.db.DeletePrefix([]byte(nodePrefix))
}

// LoadState returns the persisted dashboard state, or nil when none was saved
func (r *NodeRepository) LoadState() ([]byte, error) {
	data, err := r.db.Get([]byte(StateKey))
	if db.IsNotFound(err) {
		return nil, nil
	}
	return data, err
}

// SaveState replaces the persisted dashboard state
func (r *NodeRepository) SaveState(data []byte) error {
	return r.db.Put([]byte(StateKey), data)
}
