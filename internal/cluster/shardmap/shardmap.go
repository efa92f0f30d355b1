// Package shardmap routes an account to the node that owns its write
// path: a murmur3 consistent-hash ring with virtual nodes, keyed by the
// uint32 account id every store operation is already scoped by.
package shardmap

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	// ShardCount is the number of logical shards accounts hash into.
	ShardCount = 256

	// VirtualNodesPerNode is the number of ring positions each physical
	// node occupies, for even distribution as nodes join and leave.
	VirtualNodesPerNode = 256
)

// Map is a consistent-hash ring assigning accounts to shards and shards
// to nodes, with a primary plus replica set per shard matching the
// store's replication factor.
type Map struct {
	mu sync.RWMutex

	primary  map[uint32]string   // shard id -> primary node id
	replicas map[uint32][]string // shard id -> replica node ids
	version  uint64

	virtualNodes map[uint64]string
	sortedHashes []uint64
}

// New returns an empty ring with no nodes assigned.
func New() *Map {
	return &Map{
		primary:      make(map[uint32]string),
		replicas:     make(map[uint32][]string),
		virtualNodes: make(map[uint64]string),
	}
}

// ShardForAccount returns the shard id an account id routes to.
func (m *Map) ShardForAccount(account uint32) uint32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], account)
	return murmur3.Sum32(buf[:]) % ShardCount
}

// OwnerOf returns the node currently assigned as primary for account's
// shard, or ok=false if the shard has no primary yet (e.g. a fresh
// cluster before its first AssignShard).
func (m *Map) OwnerOf(account uint32) (nodeID string, ok bool) {
	shard := m.ShardForAccount(account)
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodeID, ok = m.primary[shard]
	return nodeID, ok
}

// OwnerOfShard returns the node currently assigned as primary for shard,
// or ok=false if unassigned. Unlike OwnerOf, this looks shard up
// directly rather than hashing an account id into one — used by the
// rebalancer, which already knows shard ids from the ring rather than
// from live account traffic.
func (m *Map) OwnerOfShard(shard uint32) (nodeID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodeID, ok = m.primary[shard]
	return nodeID, ok
}

// ReplicasOf returns the replica node ids for account's shard.
func (m *Map) ReplicasOf(account uint32) []string {
	shard := m.ShardForAccount(account)
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.replicas[shard]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// AssignShard records which node is primary for shard, with the given
// replica set, bumping the map's version.
func (m *Map) AssignShard(shard uint32, nodeID string, replicas []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary[shard] = nodeID
	if len(replicas) > 0 {
		m.replicas[shard] = append([]string(nil), replicas...)
	}
	m.version++
}

// AddNode inserts nodeID's virtual nodes into the ring, rebalancing
// future NodeForHash lookups without reassigning shards already
// pinned by AssignShard.
func (m *Map) AddNode(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < VirtualNodesPerNode; i++ {
		m.virtualNodes[hashVirtualNode(nodeID, i)] = nodeID
	}
	m.rebuildSortedHashes()
	m.version++
}

// RemoveNode evicts nodeID from the ring and clears any shard it was
// assigned as primary for, so a subsequent rebalance pass can reassign
// those shards.
func (m *Map) RemoveNode(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < VirtualNodesPerNode; i++ {
		delete(m.virtualNodes, hashVirtualNode(nodeID, i))
	}
	for shard, owner := range m.primary {
		if owner == nodeID {
			delete(m.primary, shard)
		}
	}
	m.rebuildSortedHashes()
	m.version++
}

// NodeForHash returns the ring node responsible for hash: the owner of
// the first virtual node at or after hash, wrapping around the ring.
func (m *Map) NodeForHash(hash uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.sortedHashes) == 0 {
		return "", false
	}
	idx := sort.Search(len(m.sortedHashes), func(i int) bool { return m.sortedHashes[i] >= hash })
	if idx == len(m.sortedHashes) {
		idx = 0
	}
	return m.virtualNodes[m.sortedHashes[idx]], true
}

// Nodes returns every distinct node id currently on the ring.
func (m *Map) Nodes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{})
	for _, id := range m.virtualNodes {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Version returns the map's modification counter, bumped by every
// AssignShard/AddNode/RemoveNode.
func (m *Map) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := New()
	clone.version = m.version
	for k, v := range m.primary {
		clone.primary[k] = v
	}
	for k, v := range m.replicas {
		clone.replicas[k] = append([]string(nil), v...)
	}
	for k, v := range m.virtualNodes {
		clone.virtualNodes[k] = v
	}
	clone.rebuildSortedHashes()
	return clone
}

func hashVirtualNode(nodeID string, virtualIndex int) uint64 {
	h := murmur3.New64()
	h.Write([]byte(nodeID))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(virtualIndex))
	h.Write(idx[:])
	return h.Sum64()
}

func (m *Map) rebuildSortedHashes() {
	m.sortedHashes = make([]uint64, 0, len(m.virtualNodes))
	for h := range m.virtualNodes {
		m.sortedHashes = append(m.sortedHashes, h)
	}
	sort.Slice(m.sortedHashes, func(i, j int) bool { return m.sortedHashes[i] < m.sortedHashes[j] })
}
