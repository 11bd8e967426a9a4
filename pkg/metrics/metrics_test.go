package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Itz-Agasta/ljprofile/pkg/metrics"
)

func TestLiveAllocationsSubtractsFreedFromAllocated(t *testing.T) {
	s := metrics.Snapshot{GCAllocated: 100, GCFreed: 40}
	assert.EqualValues(t, 60, s.LiveAllocations())
}

func TestLiveAllocationsFloorsAtZero(t *testing.T) {
	s := metrics.Snapshot{GCAllocated: 10, GCFreed: 10}
	assert.EqualValues(t, 0, s.LiveAllocations())

	// A GC that frees more than it ever reported allocated (e.g. freed
	// objects allocated before the snapshot baseline) must not underflow.
	s = metrics.Snapshot{GCAllocated: 5, GCFreed: 9}
	assert.EqualValues(t, 0, s.LiveAllocations())
}

func TestZeroSnapshotHasNoLiveAllocations(t *testing.T) {
	var s metrics.Snapshot
	assert.EqualValues(t, 0, s.LiveAllocations())
}
