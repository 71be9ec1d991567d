// Package filecache layers sector-granularity caching, asynchronous I/O, and
// bounded dirty data over a BlockDevice, fed by a blockcache.Cache.
package filecache

import (
	"errors"
	"sync"

	"github.com/sergev/flashfloppy/blockcache"
)

// SectorSize is the fixed sector granularity this cache operates on.
const SectorSize = 512

// ErrNotConnected is returned by a BlockDevice when the backing media has
// disappeared.
var ErrNotConnected = errors.New("filecache: block device not connected")

// BlockDevice is the synchronous transport this cache sits in front of.
// Host-side disk I/O is already buffered by the OS, so unlike the firmware's
// async block-device transport this interface is synchronous; the File
// itself provides the non-blocking PeekRead/TryRead/TryWrite contract on top.
type BlockDevice interface {
	ReadSector(sector int64, buf []byte) error
	WriteSector(sector int64, buf []byte) error
	Sync() error
}

// subkeyBits determines how many contiguous sectors one cache entry covers:
// 2^subkeyBits sectors per entry.
const subkeyBits = 3
const sectorsPerEntry = 1 << subkeyBits

type sectorGroup struct {
	data   [sectorsPerEntry * SectorSize]byte
	unread uint8 // bit i set => sector i not yet populated from storage
	dirty  uint8 // bit i set => sector i has writes not yet persisted
}

func groupKey(sector int64) uint32 {
	return uint32(sector >> subkeyBits)
}

func groupOffset(sector int64) int {
	return int(sector & (sectorsPerEntry - 1))
}

type ioOp int

const (
	ioNone ioOp = iota
	ioRead
	ioWrite
	ioSync
)

// File is a cached view of one open BlockDevice.
type File struct {
	mu    sync.Mutex
	dev   BlockDevice
	cache *blockcache.Cache[sectorGroup]

	curSector int64

	readaheadStart int64
	readaheadEnd   int64
	readaheadPrio  int64

	syncNeeded    bool
	syncRequested bool

	ioLimit int // sectors per transfer, 1..255; 0 treated as 255

	writing bool
	wait    chan struct{} // closed and replaced when the in-flight op completes
	lastErr error

	retries int
}

// New returns a cache of capacity entryCount (each covering sectorsPerEntry
// sectors) in front of dev.
func New(dev BlockDevice, entryCount int) *File {
	return &File{
		dev:     dev,
		cache:   blockcache.New[sectorGroup](entryCount),
		ioLimit: 255,
		wait:    closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// SetIOLimit caps I/O granularity in sectors per transfer; 0 means
// unlimited (255, the field's natural width).
func (f *File) SetIOLimit(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 || n > 255 {
		n = 255
	}
	f.ioLimit = n
}

// PeekRead returns the 512-byte sector with the given sector index if
// it is cached and populated; otherwise it arranges for the sector to be
// fetched and returns false.
func (f *File) PeekRead(sector int64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.curSector = sector
	key := groupKey(sector)
	off := groupOffset(sector)

	group, ok := f.cache.Lookup(key)
	if !ok {
		f.cache.UpdateMut(key)
		group, _ = f.cache.Lookup(key)
		group.unread = 0xff
		f.cache.Update(key, group)
		return nil, false
	}
	if group.unread&(1<<off) != 0 {
		return nil, false
	}
	buf := make([]byte, SectorSize)
	copy(buf, group.data[off*SectorSize:(off+1)*SectorSize])
	return buf, true
}

// PeekWrite returns a fresh buffer for the given sector index which will be
// marked dirty once the caller commits it via CommitWrite. If the sector is
// unread, false is returned until the read completes (to permit correct
// read-modify-write semantics for partial writes).
func (f *File) PeekWrite(sector int64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := groupKey(sector)
	off := groupOffset(sector)

	group, ok := f.cache.Lookup(key)
	if !ok {
		f.cache.UpdateMut(key)
		group, _ = f.cache.Lookup(key)
		group.unread = 0xff
		f.cache.Update(key, group)
		f.curSector = sector
		return nil, false
	}
	if group.unread&(1<<off) != 0 {
		return nil, false
	}
	buf := make([]byte, SectorSize)
	copy(buf, group.data[off*SectorSize:(off+1)*SectorSize])
	return buf, true
}

// CommitWrite stores buf into the given sector and marks it dirty.
func (f *File) CommitWrite(sector int64, buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitWriteLocked(sector, buf)
}

func (f *File) commitWriteLocked(sector int64, buf []byte) {
	key := groupKey(sector)
	off := groupOffset(sector)
	group, ok := f.cache.Lookup(key)
	if !ok {
		group.unread = 0xff
	}
	copy(group.data[off*SectorSize:(off+1)*SectorSize], buf)
	group.unread &^= 1 << off
	group.dirty |= 1 << off
	f.cache.Update(key, group)
	f.syncNeeded = true
}

// TryRead performs a sub-sector read; it returns true only if the backing
// sector is already cached and populated.
func (f *File) TryRead(buf []byte, offset int64, n int) bool {
	sector := offset / SectorSize
	sectorOff := int(offset % SectorSize)
	data, ok := f.PeekRead(sector)
	if !ok {
		return false
	}
	copy(buf[:n], data[sectorOff:sectorOff+n])
	return true
}

// TryWrite performs a sub-sector write via read-modify-write, or takes a
// fast path straight to CommitWrite for an exact 512-byte aligned write.
func (f *File) TryWrite(buf []byte, offset int64, n int) bool {
	sector := offset / SectorSize
	sectorOff := int(offset % SectorSize)

	if sectorOff == 0 && n == SectorSize {
		f.CommitWrite(sector, buf[:n])
		return true
	}

	data, ok := f.PeekWrite(sector)
	if !ok {
		return false
	}
	copy(data[sectorOff:sectorOff+n], buf[:n])
	f.CommitWrite(sector, data)
	return true
}

// Readahead declares a window of interest; Progress prefetches up to
// priorityBytes worth of sectors ahead of the current cursor eagerly, and
// the remainder of the window opportunistically.
func (f *File) Readahead(offset, length int64, priorityBytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readaheadStart = offset / SectorSize
	f.readaheadEnd = (offset + length + SectorSize - 1) / SectorSize
	f.readaheadPrio = f.readaheadStart + (priorityBytes+SectorSize-1)/SectorSize
}

// Sync flushes all dirty entries then issues a backing sync; returns
// immediately.
func (f *File) Sync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncRequested = true
}

// SyncWait blocks until all dirty sectors and a sync have landed.
func (f *File) SyncWait() error {
	f.Sync()
	for {
		f.mu.Lock()
		done := !f.syncRequested && !f.syncNeeded && !f.writing
		wait := f.wait
		err := f.lastErr
		f.mu.Unlock()
		if done {
			return err
		}
		f.Progress()
		<-wait
	}
}

// nextOpLocked applies the core spec's scheduler order for what to issue
// next: priority read > readahead-window read > dirty write-back > sync >
// opportunistic readahead.
func (f *File) nextOpLocked() (ioOp, uint32, int) {
	curKey := groupKey(f.curSector)
	curOff := groupOffset(f.curSector)
	if group, ok := f.cache.Lookup(curKey); ok && group.unread&(1<<curOff) != 0 {
		return ioRead, curKey, curOff
	}

	for s := f.readaheadStart; s < f.readaheadPrio; s++ {
		key := groupKey(s)
		off := groupOffset(s)
		if group, ok := f.cache.Lookup(key); ok && group.unread&(1<<off) != 0 {
			return ioRead, key, off
		}
	}

	if key, _, ok := f.cache.LRUSearch(func(_ uint32, g sectorGroup) bool { return g.dirty != 0 }); ok {
		return ioWrite, key, 0
	}

	if f.syncRequested {
		return ioSync, 0, 0
	}

	for s := f.readaheadPrio; s < f.readaheadEnd; s++ {
		key := groupKey(s)
		off := groupOffset(s)
		if group, ok := f.cache.Lookup(key); ok && group.unread&(1<<off) != 0 {
			return ioRead, key, off
		}
	}

	return ioNone, 0, 0
}

// Progress pumps at most one outstanding I/O operation and returns once it
// has dispatched (synchronously, since BlockDevice is synchronous) or found
// nothing to do.
func (f *File) Progress() {
	f.mu.Lock()
	if f.writing {
		f.mu.Unlock()
		return
	}
	op, key, off := f.nextOpLocked()
	if op == ioNone {
		f.mu.Unlock()
		return
	}
	f.writing = true
	done := make(chan struct{})
	f.wait = done
	f.mu.Unlock()

	var err error
	switch op {
	case ioRead:
		err = f.doRead(key, off)
	case ioWrite:
		err = f.doWrite(key)
	case ioSync:
		err = f.dev.Sync()
		if err == nil {
			f.mu.Lock()
			f.syncRequested = false
			f.syncNeeded = false
			f.mu.Unlock()
		}
	}

	f.mu.Lock()
	if err != nil {
		f.retries++
		if f.retries >= 3 {
			f.lastErr = err
			f.retries = 0
		}
	} else {
		f.retries = 0
		f.lastErr = nil
	}
	f.writing = false
	f.mu.Unlock()
	close(done)
}

func (f *File) doRead(key uint32, off int) error {
	base := int64(key) << subkeyBits
	// Coalesce contiguous unread sectors within this entry, bounded by ioLimit.
	f.mu.Lock()
	group, _ := f.cache.Lookup(key)
	limit := f.ioLimit
	f.mu.Unlock()

	start := off
	for start > 0 && group.unread&(1<<(start-1)) != 0 {
		start--
	}
	count := 0
	for start+count < sectorsPerEntry && group.unread&(1<<(start+count)) != 0 && count < limit {
		count++
	}
	if count == 0 {
		count = 1
	}

	buf := make([]byte, count*SectorSize)
	for i := 0; i < count; i++ {
		if err := f.dev.ReadSector(base+int64(start+i), buf[i*SectorSize:(i+1)*SectorSize]); err != nil {
			return err
		}
	}

	f.mu.Lock()
	group, _ = f.cache.Lookup(key)
	copy(group.data[start*SectorSize:(start+count)*SectorSize], buf)
	for i := 0; i < count; i++ {
		group.unread &^= 1 << (start + i)
	}
	f.cache.Update(key, group)
	f.mu.Unlock()
	return nil
}

func (f *File) doWrite(key uint32) error {
	base := int64(key) << subkeyBits
	f.mu.Lock()
	group, _ := f.cache.Lookup(key)
	dirty := group.dirty
	// Clear dirty bits before the I/O completes so a concurrent write to the
	// same sector that lands after this point is not silently dropped.
	group.dirty = 0
	f.cache.Update(key, group)
	f.mu.Unlock()

	for i := 0; i < sectorsPerEntry; i++ {
		if dirty&(1<<i) == 0 {
			continue
		}
		sector := base + int64(i)
		data := make([]byte, SectorSize)
		copy(data, group.data[i*SectorSize:(i+1)*SectorSize])
		if err := f.dev.WriteSector(sector, data); err != nil {
			f.mu.Lock()
			g, _ := f.cache.Lookup(key)
			g.dirty |= 1 << i
			f.cache.Update(key, g)
			f.mu.Unlock()
			return err
		}
	}
	return nil
}
