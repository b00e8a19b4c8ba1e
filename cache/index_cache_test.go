package cache

import (
	"mapsforge/header"
	"mapsforge/util"
	"os"
	"testing"
)

func newTestIndexFile(t *testing.T, numberOfBlocks int64) (*os.File, *header.SubFileParameter) {
	file, err := os.CreateTemp("", "index_cache_test")
	util.AssertNil(t, err)

	total := numberOfBlocks * entryBytes
	data := make([]byte, total)
	for i := int64(0); i < numberOfBlocks; i++ {
		entry := uint64(i + 1) // offset = i+1, never 0 so it doesn't read as "empty"
		if i%2 == 0 {
			entry |= waterFlagBit
		}
		for b := 0; b < entryBytes; b++ {
			data[i*entryBytes+int64(b)] = byte(entry >> uint(8*(entryBytes-1-b)))
		}
	}
	_, err = file.Write(data)
	util.AssertNil(t, err)

	sub := &header.SubFileParameter{
		IndexStartAddress: 0,
		NumberOfBlocks:    numberOfBlocks,
	}
	return file, sub
}

func TestIndexCache_getIndexEntry(t *testing.T) {
	file, sub := newTestIndexFile(t, 300)
	defer os.Remove(file.Name())
	defer file.Close()

	c := NewIndexCache(file)

	entry, err := c.GetIndexEntry(sub, 0)
	util.AssertNil(t, err)
	util.AssertEqual(t, int64(1), Offset(entry))
	util.AssertTrue(t, IsWater(entry))

	entry, err = c.GetIndexEntry(sub, 1)
	util.AssertNil(t, err)
	util.AssertEqual(t, int64(2), Offset(entry))
	util.AssertFalse(t, IsWater(entry))

	// Block 200 lives in a later chunk, crossing the chunk boundary.
	entry, err = c.GetIndexEntry(sub, 200)
	util.AssertNil(t, err)
	util.AssertEqual(t, int64(201), Offset(entry))
}

func TestIndexCache_outOfRange(t *testing.T) {
	file, sub := newTestIndexFile(t, 10)
	defer os.Remove(file.Name())
	defer file.Close()

	c := NewIndexCache(file)
	_, err := c.GetIndexEntry(sub, 10)
	util.AssertNotNil(t, err)
}

func TestIndexCache_evictsLeastRecentlyUsed(t *testing.T) {
	file, sub := newTestIndexFile(t, int64((CapacityChunks+1)*EntriesPerChunk))
	defer os.Remove(file.Name())
	defer file.Close()

	c := NewIndexCache(file)
	for chunk := 0; chunk < CapacityChunks; chunk++ {
		_, err := c.GetIndexEntry(sub, int64(chunk*EntriesPerChunk))
		util.AssertNil(t, err)
	}
	util.AssertEqual(t, CapacityChunks, c.Len())

	// Touch chunk 0 so chunk 1 becomes the least recently used.
	_, err := c.GetIndexEntry(sub, 0)
	util.AssertNil(t, err)

	// One more distinct chunk forces an eviction; capacity must not grow.
	_, err = c.GetIndexEntry(sub, int64(CapacityChunks*EntriesPerChunk))
	util.AssertNil(t, err)
	util.AssertEqual(t, CapacityChunks, c.Len())

	// The evicted chunk is chunk 1, not the recently touched chunk 0.
	_, chunk0Cached := c.entries[chunkKey{subFile: sub, chunkIndex: 0}]
	_, chunk1Cached := c.entries[chunkKey{subFile: sub, chunkIndex: 1}]
	util.AssertTrue(t, chunk0Cached)
	util.AssertFalse(t, chunk1Cached)
}
