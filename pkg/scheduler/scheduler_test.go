package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/types"
)

func pool(counts ...[2]int) []types.NodeInfo {
	nodes := make([]types.NodeInfo, 0, len(counts))
	for i, c := range counts {
		nodes = append(nodes, types.NodeInfo{
			Hostname: string(rune('a'+i)) + "-node",
			Count:    c[0],
			Capacity: c[1],
		})
	}
	return nodes
}

func TestNewFactory(t *testing.T) {
	for _, name := range Names() {
		s, err := New(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}

	_, err := New("fastest")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Equal(t, []string{Greedy, LeastLoad, LeastLoadRandom, LoadWeightedRandom}, Names())
}

func TestCapacityPrecondition(t *testing.T) {
	nodes := pool([2]int{2, 2}, [2]int{1, 1}) // zero slots total

	for _, name := range Names() {
		s, err := New(name)
		require.NoError(t, err)

		_, err = s.NodeSelect(nodes, "10.0.0.1")
		assert.ErrorIs(t, err, errdefs.ErrWorkerUnavailable, name)

		_, err = s.BatchNodeSelect(pool([2]int{0, 2}), []string{"h1", "h2", "h3"})
		assert.ErrorIs(t, err, errdefs.ErrWorkerUnavailable, name)
	}

	// empty pool
	s, _ := New(Greedy)
	_, err := s.NodeSelect(nil, "10.0.0.1")
	assert.ErrorIs(t, err, errdefs.ErrWorkerUnavailable)
}

func TestGreedySelect(t *testing.T) {
	s := &greedyScheduler{}

	nodes := pool([2]int{3, 3}, [2]int{1, 4}, [2]int{0, 4})
	picked, err := s.NodeSelect(nodes, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "b-node", picked.Hostname, "first non-full node wins")

	// batch fills nodes in list order
	assignments, err := s.BatchNodeSelect(nodes, []string{"h1", "h2", "h3", "h4"})
	require.NoError(t, err)
	hostnames := make([]string, 0, len(assignments))
	for _, n := range assignments {
		hostnames = append(hostnames, n.Hostname)
	}
	assert.Equal(t, []string{"b-node", "b-node", "b-node", "c-node"}, hostnames)

	// input snapshot untouched
	assert.Equal(t, 1, nodes[1].Count)
}

func TestLeastLoadSelect(t *testing.T) {
	s := &leastLoadScheduler{}

	tests := []struct {
		name  string
		nodes []types.NodeInfo
		want  string
	}{
		{
			name: "min count wins",
			nodes: []types.NodeInfo{
				{Hostname: "x", Count: 3, Capacity: 10},
				{Hostname: "y", Count: 1, Capacity: 4},
			},
			want: "y",
		},
		{
			name: "remaining breaks count tie",
			nodes: []types.NodeInfo{
				{Hostname: "x", Count: 2, Capacity: 4},
				{Hostname: "y", Count: 2, Capacity: 10},
			},
			want: "y",
		},
		{
			name: "hostname breaks full tie",
			nodes: []types.NodeInfo{
				{Hostname: "beta", Count: 2, Capacity: 4},
				{Hostname: "alpha", Count: 2, Capacity: 4},
			},
			want: "alpha",
		},
		{
			name: "full node skipped despite low count",
			nodes: []types.NodeInfo{
				{Hostname: "x", Count: 1, Capacity: 1},
				{Hostname: "y", Count: 5, Capacity: 10},
			},
			want: "y",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			picked, err := s.NodeSelect(tt.nodes, "10.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, picked.Hostname)
		})
	}
}

func TestLeastLoadBatchSpreads(t *testing.T) {
	s := &leastLoadScheduler{}
	nodes := pool([2]int{0, 2}, [2]int{0, 2})

	assignments, err := s.BatchNodeSelect(nodes, []string{"h1", "h2", "h3", "h4"})
	require.NoError(t, err)

	perNode := map[string]int{}
	for _, n := range assignments {
		perNode[n.Hostname]++
	}
	assert.Equal(t, map[string]int{"a-node": 2, "b-node": 2}, perNode,
		"batch must respect capacity consumed within the batch")
}

func TestLeastLoadRandomStaysInTopTier(t *testing.T) {
	s := newLeastLoadRandom()
	s.rng = rand.New(rand.NewSource(7))

	nodes := []types.NodeInfo{
		{Hostname: "busy", Count: 5, Capacity: 10},
		{Hostname: "idle-1", Count: 1, Capacity: 10},
		{Hostname: "idle-2", Count: 1, Capacity: 10},
	}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		picked, err := s.NodeSelect(nodes, "10.0.0.1")
		require.NoError(t, err)
		assert.NotEqual(t, "busy", picked.Hostname)
		seen[picked.Hostname] = true
	}
	assert.True(t, seen["idle-1"] && seen["idle-2"], "ties must be broken randomly")
}

func TestLeastLoadRandomBatchHonorsCapacity(t *testing.T) {
	s := newLeastLoadRandom()
	s.rng = rand.New(rand.NewSource(7))

	nodes := pool([2]int{0, 1}, [2]int{0, 1}, [2]int{0, 1})
	assignments, err := s.BatchNodeSelect(nodes, []string{"h1", "h2", "h3"})
	require.NoError(t, err)

	perNode := map[string]int{}
	for _, n := range assignments {
		perNode[n.Hostname]++
	}
	for hostname, got := range perNode {
		assert.LessOrEqual(t, got, 1, hostname)
	}
	assert.Len(t, perNode, 3)
}

func TestLoadWeightedRandomDeterministicPerHost(t *testing.T) {
	s := newLoadWeightedRandom()

	nodes := pool([2]int{0, 8}, [2]int{4, 8}, [2]int{7, 8})

	first, err := s.NodeSelect(nodes, "10.0.0.42")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.NodeSelect(nodes, "10.0.0.42")
		require.NoError(t, err)
		assert.Equal(t, first.Hostname, again.Hostname,
			"same host and same pool must select the same node")
	}
}

func TestLoadWeightedRandomNeverPicksFull(t *testing.T) {
	s := newLoadWeightedRandom()
	s.rng = rand.New(rand.NewSource(3))

	nodes := []types.NodeInfo{
		{Hostname: "full", Count: 4, Capacity: 4},
		{Hostname: "open", Count: 0, Capacity: 4},
	}

	for i := 0; i < 30; i++ {
		picked, err := s.NodeSelect(nodes, "h")
		require.NoError(t, err)
		assert.Equal(t, "open", picked.Hostname)
	}

	assignments, err := s.BatchNodeSelect(nodes, []string{"h1", "h2", "h3", "h4"})
	require.NoError(t, err)
	for _, n := range assignments {
		assert.Equal(t, "open", n.Hostname)
	}
}

func TestLoadWeightedRandomPrefersSpareCapacity(t *testing.T) {
	s := newLoadWeightedRandom()
	s.rng = rand.New(rand.NewSource(11))

	// weight 81 vs 4: the empty node should dominate the draw
	nodes := []types.NodeInfo{
		{Hostname: "packed", Count: 8, Capacity: 8}, // full, excluded
		{Hostname: "near", Count: 7, Capacity: 8},   // weight 4
		{Hostname: "empty", Count: 0, Capacity: 8},  // weight 81
	}

	picks := map[string]int{}
	for i := 0; i < 200; i++ {
		assignments, err := s.BatchNodeSelect(nodes, []string{"h"})
		require.NoError(t, err)
		picks[assignments[0].Hostname]++
	}
	assert.Zero(t, picks["packed"])
	assert.Greater(t, picks["empty"], picks["near"])
}
