package mux

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// maxLivePorts is the number of live ports at which allocation fails with
// ErrNoAvailablePorts: 65534, one below the count of non-zero 16-bit values
// (0 is the reserved sentinel).
const maxLivePorts = 1<<16 - 2

// portEntry is what the port table maps a live port to: a bounded queue
// delivering inbound Psh payloads (an empty payload denotes EOF) to the
// stream's read half, and a shared removed flag the core sets once the
// entry is torn down so the stream's write half can fail fast.
type portEntry struct {
	queue   chan []byte
	removed atomic.Bool
}

func newPortEntry(bufferSize int) *portEntry {
	return &portEntry{queue: make(chan []byte, bufferSize)}
}

// deliverEOF pushes the empty-payload EOF marker without ever blocking: its
// callers (the demultiplex loop, and shutdown, which holds the port table
// lock) must not stall waiting for a reader that may never come, e.g. for a
// pending port whose Ack never arrived.
func (e *portEntry) deliverEOF() {
	select {
	case e.queue <- nil:
		return
	default:
	}

	// Queue briefly full; drain one slot so EOF is never lost. The entry is
	// being torn down, so dropping a not-yet-read data chunk here is
	// acceptable: the peer is gone regardless.
	select {
	case <-e.queue:
	default:
	}

	select {
	case e.queue <- nil:
	default:
		// No room even after draining (a concurrent send refilled it, or the
		// queue is cap-0 with no reader): give up rather than block. The
		// EOF marker is then not queued.
	}
}

// portTable is single-writer in practice (the demultiplex loop and
// OpenStream) but guarded by a reader-writer lock so Psh forwarding can take
// a read lock concurrently with other lookups.
type portTable struct {
	mu      sync.RWMutex
	entries map[uint16]*portEntry
}

func newPortTable() *portTable {
	return &portTable{entries: make(map[uint16]*portEntry)}
}

// allocLocked picks a port not present in the table and not equal to 0. The
// caller must hold t.mu for writing. Strategy: a handful of random probes,
// then a linear scan; fails once the table is saturated.
func (t *portTable) allocLocked() (uint16, error) {
	if len(t.entries) >= maxLivePorts {
		return 0, ErrNoAvailablePorts
	}

	for i := 0; i < 32; i++ {
		candidate := randomPort()
		if candidate == 0 {
			continue
		}
		if _, exists := t.entries[candidate]; !exists {
			return candidate, nil
		}
	}

	for candidate := uint32(1); candidate <= 0xFFFF; candidate++ {
		p := uint16(candidate)
		if _, exists := t.entries[p]; !exists {
			return p, nil
		}
	}
	return 0, ErrNoAvailablePorts
}

func randomPort() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}
