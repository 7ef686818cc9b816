package middle

// RAM backend: a two-level sparse array covering the signed 64-bit ID
// range via block-indexed arena. Top level is a sparse map of block
// index -> dense block; each block holds 2^blockShift entries. Negative
// IDs are handled by block_index(id) = (id >> B) + 2^(63-B), matching
// the source's node-ram-cache.h sparse/dense split.

const blockShift = 10 // B
const blockSize = 1 << blockShift

// blockIndex maps an id to its top-level block slot, offsetting by
// 2^(63-B) so negative ids land at non-negative slots.
func blockIndex(id int64) int64 {
	return (id >> blockShift) + (int64(1) << (63 - blockShift))
}

func blockOffset(id int64) int64 {
	off := id & (blockSize - 1)
	return off
}

type ramNodeEntry struct {
	lon, lat int32 // fixed-point, ScaleCoord units
	present  bool
}

type ramNodeBlock struct {
	entries [blockSize]ramNodeEntry
}

type ramWayEntry struct {
	way     RawWay
	present bool
}

type ramWayBlock struct {
	entries [blockSize]ramWayEntry
}

type ramRelEntry struct {
	rel     RawRelation
	present bool
}

type ramRelBlock struct {
	entries [blockSize]ramRelEntry
}

// RAMStore is the in-memory middle backend. Ways and relations are kept
// fully in RAM too (suitable for non-slim bulk-import runs); it does not
// support back-reference queries: callers must use the slim backend
// for update-mode back-reference lookups.
type RAMStore struct {
	nodeBlocks map[int64]*ramNodeBlock
	wayBlocks  map[int64]*ramWayBlock
	relBlocks  map[int64]*ramRelBlock
}

// NewRAMStore creates an empty RAM-backed middle store.
func NewRAMStore() *RAMStore {
	return &RAMStore{
		nodeBlocks: make(map[int64]*ramNodeBlock),
		wayBlocks:  make(map[int64]*ramWayBlock),
		relBlocks:  make(map[int64]*ramRelBlock),
	}
}

// PutNode stores a node's scaled coordinates. A second put for the same
// id overwrites the first.
func (s *RAMStore) PutNode(id int64, lon, lat int32) {
	bi := blockIndex(id)
	b := s.nodeBlocks[bi]
	if b == nil {
		b = &ramNodeBlock{}
		s.nodeBlocks[bi] = b
	}
	off := blockOffset(id)
	b.entries[off] = ramNodeEntry{lon: lon, lat: lat, present: true}
}

// GetNode returns a node's scaled (lon, lat) and whether it was found.
func (s *RAMStore) GetNode(id int64) (lon, lat int32, ok bool) {
	b, exists := s.nodeBlocks[blockIndex(id)]
	if !exists {
		return 0, 0, false
	}
	e := b.entries[blockOffset(id)]
	if !e.present {
		return 0, 0, false
	}
	return e.lon, e.lat, true
}

// DeleteNode removes a node, for update-mode deletion.
func (s *RAMStore) DeleteNode(id int64) {
	if b, ok := s.nodeBlocks[blockIndex(id)]; ok {
		b.entries[blockOffset(id)] = ramNodeEntry{}
	}
}

// GetNodeList resolves a sequence of node ids to scaled coordinates,
// skipping missing nodes, and reports how
// many were found.
func (s *RAMStore) GetNodeList(ids []int64) (lons, lats []int32, found int) {
	lons = make([]int32, 0, len(ids))
	lats = make([]int32, 0, len(ids))
	for _, id := range ids {
		if lon, lat, ok := s.GetNode(id); ok {
			lons = append(lons, lon)
			lats = append(lats, lat)
			found++
		}
	}
	return lons, lats, found
}

// PutWay stores a way, overwriting any existing entry with the same id.
func (s *RAMStore) PutWay(w RawWay) {
	bi := blockIndex(w.ID)
	b := s.wayBlocks[bi]
	if b == nil {
		b = &ramWayBlock{}
		s.wayBlocks[bi] = b
	}
	b.entries[blockOffset(w.ID)] = ramWayEntry{way: w, present: true}
}

// GetWay returns a way and whether it was found.
func (s *RAMStore) GetWay(id int64) (RawWay, bool) {
	b, exists := s.wayBlocks[blockIndex(id)]
	if !exists {
		return RawWay{}, false
	}
	e := b.entries[blockOffset(id)]
	return e.way, e.present
}

// DeleteWay removes a way.
func (s *RAMStore) DeleteWay(id int64) {
	if b, ok := s.wayBlocks[blockIndex(id)]; ok {
		b.entries[blockOffset(id)] = ramWayEntry{}
	}
}

// PutRelation stores a relation, overwriting any existing entry.
func (s *RAMStore) PutRelation(r RawRelation) {
	bi := blockIndex(r.ID)
	b := s.relBlocks[bi]
	if b == nil {
		b = &ramRelBlock{}
		s.relBlocks[bi] = b
	}
	b.entries[blockOffset(r.ID)] = ramRelEntry{rel: r, present: true}
}

// GetRelation returns a relation and whether it was found.
func (s *RAMStore) GetRelation(id int64) (RawRelation, bool) {
	b, exists := s.relBlocks[blockIndex(id)]
	if !exists {
		return RawRelation{}, false
	}
	e := b.entries[blockOffset(id)]
	return e.rel, e.present
}

// DeleteRelation removes a relation.
func (s *RAMStore) DeleteRelation(id int64) {
	if b, ok := s.relBlocks[blockIndex(id)]; ok {
		b.entries[blockOffset(id)] = ramRelEntry{}
	}
}

// Clear releases all cached entries (shutdown / end of ingest lifecycle).
func (s *RAMStore) Clear() {
	s.nodeBlocks = make(map[int64]*ramNodeBlock)
	s.wayBlocks = make(map[int64]*ramWayBlock)
	s.relBlocks = make(map[int64]*ramRelBlock)
}
