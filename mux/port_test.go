package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAllocatorAvoidsSentinelAndDuplicates(t *testing.T) {
	table := newPortTable()
	table.mu.Lock()
	defer table.mu.Unlock()

	seen := make(map[uint16]bool)
	for i := 0; i < 1000; i++ {
		p, err := table.allocLocked()
		require.NoError(t, err)
		assert.NotZero(t, p)
		assert.False(t, seen[p], "port reused before being inserted")
		seen[p] = true
		table.entries[p] = newPortEntry(1)
	}
}

func TestPortAllocatorFailsWhenSaturated(t *testing.T) {
	table := newPortTable()
	table.mu.Lock()
	defer table.mu.Unlock()

	for i := 1; i <= maxLivePorts; i++ {
		table.entries[uint16(i)] = newPortEntry(1)
	}

	_, err := table.allocLocked()
	assert.ErrorIs(t, err, ErrNoAvailablePorts)
}

func TestPortAllocatorReusesFreedPort(t *testing.T) {
	table := newPortTable()
	table.mu.Lock()
	p, err := table.allocLocked()
	require.NoError(t, err)
	table.entries[p] = newPortEntry(1)
	delete(table.entries, p)
	table.mu.Unlock()

	table.mu.Lock()
	defer table.mu.Unlock()
	// Freed immediately, so it's a legal candidate again; we can't assert
	// it's picked deterministically (random probing), only that alloc still
	// succeeds from a table that once held it.
	_, err = table.allocLocked()
	assert.NoError(t, err)
}
