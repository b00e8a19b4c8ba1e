// Package cache holds the index-entry cache the block decoder consults
// before every block read: a fixed-capacity, map-backed LRU of index
// chunks read from a sub-file's index section. Eviction order is tracked
// with a container/list doubly-linked list rather than a timestamp scan.
// The decoder is single-threaded per caller, so this cache carries no
// mutex.
package cache

import (
	"container/list"
	"github.com/pkg/errors"
	"mapsforge/header"
	"os"
)

// EntriesPerChunk is the number of consecutive 5-byte index entries
// grouped into one cached chunk.
const EntriesPerChunk = 128

// entryBytes is the on-disk width of one packed index entry.
const entryBytes = 5

// CapacityChunks is the fixed number of chunks the cache holds before
// evicting the least recently used one.
const CapacityChunks = 64

// offsetMask isolates the low 39 bits of a packed index entry (the
// block offset); bit 39 is the water flag.
const offsetMask uint64 = 0x7FFFFFFFFF
const waterFlagBit uint64 = 0x8000000000

type chunkKey struct {
	subFile    *header.SubFileParameter
	chunkIndex int64
}

type chunkEntry struct {
	key  chunkKey
	data []byte
}

// IndexCache is a fixed-capacity LRU over index-entry chunks, read from
// a sub-file's index section on demand.
type IndexCache struct {
	file     *os.File
	capacity int
	entries  map[chunkKey]*list.Element
	order    *list.List // front = most recently used
}

func NewIndexCache(file *os.File) *IndexCache {
	return &IndexCache{
		file:     file,
		capacity: CapacityChunks,
		entries:  make(map[chunkKey]*list.Element),
		order:    list.New(),
	}
}

// GetIndexEntry returns the raw 40-bit packed entry for blockNumber
// within sub, loading and caching its chunk on a miss.
func (c *IndexCache) GetIndexEntry(sub *header.SubFileParameter, blockNumber int64) (uint64, error) {
	if blockNumber < 0 || blockNumber >= sub.NumberOfBlocks {
		return 0, errors.Errorf("block number %d out of range [0, %d)", blockNumber, sub.NumberOfBlocks)
	}

	chunkIndex := blockNumber / EntriesPerChunk
	data, err := c.chunk(sub, chunkIndex)
	if err != nil {
		return 0, err
	}

	offset := int(blockNumber%EntriesPerChunk) * entryBytes
	if offset+entryBytes > len(data) {
		return 0, errors.Errorf("index chunk too short for block %d: need offset %d, have %d bytes", blockNumber, offset, len(data))
	}

	var entry uint64
	for i := 0; i < entryBytes; i++ {
		entry = entry<<8 | uint64(data[offset+i])
	}
	return entry, nil
}

// Offset extracts the block offset (relative to StartAddress) from a
// packed index entry.
func Offset(entry uint64) int64 {
	return int64(entry & offsetMask)
}

// IsWater reports whether the packed index entry's water flag is set.
func IsWater(entry uint64) bool {
	return entry&waterFlagBit != 0
}

func (c *IndexCache) chunk(sub *header.SubFileParameter, chunkIndex int64) ([]byte, error) {
	key := chunkKey{subFile: sub, chunkIndex: chunkIndex}

	if element, ok := c.entries[key]; ok {
		c.order.MoveToFront(element)
		return element.Value.(*chunkEntry).data, nil
	}

	at := sub.IndexStartAddress + chunkIndex*EntriesPerChunk*entryBytes
	buf := make([]byte, EntriesPerChunk*entryBytes)
	n, err := c.file.ReadAt(buf, at)
	if err != nil && n == 0 {
		return nil, errors.Wrapf(err, "reading index chunk %d at file offset %d", chunkIndex, at)
	}
	buf = buf[:n]

	element := c.order.PushFront(&chunkEntry{key: key, data: buf})
	c.entries[key] = element

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*chunkEntry).key)
		}
	}

	return buf, nil
}

// Len reports the number of chunks currently cached, for tests.
func (c *IndexCache) Len() int {
	return c.order.Len()
}
