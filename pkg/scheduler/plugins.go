package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/netpulse/netpulse/pkg/types"
)

// greedyScheduler takes the first node with spare capacity, filling nodes
// in list order.
type greedyScheduler struct{}

func (g *greedyScheduler) NodeSelect(nodes []types.NodeInfo, host string) (types.NodeInfo, error) {
	if err := ensureCapacity(nodes, 1); err != nil {
		return types.NodeInfo{}, err
	}
	for _, n := range nodes {
		if !n.Full() {
			return n, nil
		}
	}
	return types.NodeInfo{}, errCapacityRace()
}

func (g *greedyScheduler) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
	if err := ensureCapacity(nodes, len(hosts)); err != nil {
		return nil, err
	}
	work := workingSet(nodes)
	out := make([]types.NodeInfo, 0, len(hosts))
	idx := 0
	for range hosts {
		for work[idx].Full() {
			idx++
		}
		out = append(out, work[idx])
		work[idx].Count++
	}
	return out, nil
}

// leastLoadScheduler picks deterministically by (min count, max remaining
// capacity, min hostname).
type leastLoadScheduler struct{}

func lessLoaded(a, b types.NodeInfo) bool {
	if a.Count != b.Count {
		return a.Count < b.Count
	}
	if a.Remaining() != b.Remaining() {
		return a.Remaining() > b.Remaining()
	}
	return a.Hostname < b.Hostname
}

func (l *leastLoadScheduler) NodeSelect(nodes []types.NodeInfo, host string) (types.NodeInfo, error) {
	if err := ensureCapacity(nodes, 1); err != nil {
		return types.NodeInfo{}, err
	}
	best := -1
	for i, n := range nodes {
		if n.Full() {
			continue
		}
		if best < 0 || lessLoaded(n, nodes[best]) {
			best = i
		}
	}
	if best < 0 {
		return types.NodeInfo{}, errCapacityRace()
	}
	return nodes[best], nil
}

func (l *leastLoadScheduler) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
	if err := ensureCapacity(nodes, len(hosts)); err != nil {
		return nil, err
	}
	work := workingSet(nodes)
	out := make([]types.NodeInfo, 0, len(hosts))
	for range hosts {
		best := -1
		for i, n := range work {
			if n.Full() {
				continue
			}
			if best < 0 || lessLoaded(n, work[best]) {
				best = i
			}
		}
		if best < 0 {
			return nil, errCapacityRace()
		}
		out = append(out, work[best])
		work[best].Count++
	}
	return out, nil
}

// leastLoadRandomScheduler keeps the least-load top tier but breaks ties
// randomly instead of by hostname.
type leastLoadRandomScheduler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLeastLoadRandom() *leastLoadRandomScheduler {
	return &leastLoadRandomScheduler{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// topTier returns the indexes of non-full nodes at (min count, max
// remaining).
func topTier(nodes []types.NodeInfo) []int {
	var tier []int
	for i, n := range nodes {
		if n.Full() {
			continue
		}
		if len(tier) == 0 {
			tier = append(tier, i)
			continue
		}
		head := nodes[tier[0]]
		switch {
		case n.Count < head.Count,
			n.Count == head.Count && n.Remaining() > head.Remaining():
			tier = tier[:0]
			tier = append(tier, i)
		case n.Count == head.Count && n.Remaining() == head.Remaining():
			tier = append(tier, i)
		}
	}
	return tier
}

func (l *leastLoadRandomScheduler) NodeSelect(nodes []types.NodeInfo, host string) (types.NodeInfo, error) {
	if err := ensureCapacity(nodes, 1); err != nil {
		return types.NodeInfo{}, err
	}
	tier := topTier(nodes)
	if len(tier) == 0 {
		return types.NodeInfo{}, errCapacityRace()
	}
	l.mu.Lock()
	pick := tier[l.rng.Intn(len(tier))]
	l.mu.Unlock()
	return nodes[pick], nil
}

func (l *leastLoadRandomScheduler) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
	if err := ensureCapacity(nodes, len(hosts)); err != nil {
		return nil, err
	}
	work := workingSet(nodes)
	out := make([]types.NodeInfo, 0, len(hosts))
	for range hosts {
		tier := maxRemainingTier(work)
		if len(tier) == 0 {
			return nil, errCapacityRace()
		}
		l.mu.Lock()
		pick := tier[l.rng.Intn(len(tier))]
		l.mu.Unlock()
		out = append(out, work[pick])
		work[pick].Count++
	}
	return out, nil
}

// maxRemainingTier returns the indexes of nodes with the most spare
// capacity. Batch selection drains tiers iteratively.
func maxRemainingTier(nodes []types.NodeInfo) []int {
	var tier []int
	best := 0
	for i, n := range nodes {
		r := n.Remaining()
		if r == 0 {
			continue
		}
		switch {
		case len(tier) == 0 || r > best:
			best = r
			tier = tier[:0]
			tier = append(tier, i)
		case r == best:
			tier = append(tier, i)
		}
	}
	return tier
}

// loadWeightedRandomScheduler draws nodes with probability proportional to
// (remaining+1)^2, so lightly loaded nodes win more often without
// starving the rest.
type loadWeightedRandomScheduler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLoadWeightedRandom() *loadWeightedRandomScheduler {
	return &loadWeightedRandomScheduler{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func weightOf(n types.NodeInfo) int64 {
	w := int64(n.Remaining() + 1)
	return w * w
}

// weightedDraw walks the cumulative weights of non-full nodes. Full nodes
// never receive new bindings regardless of their +1 floor weight.
func weightedDraw(nodes []types.NodeInfo, rng *rand.Rand) int {
	var total int64
	for _, n := range nodes {
		if n.Full() {
			continue
		}
		total += weightOf(n)
	}
	if total <= 0 {
		return -1
	}
	draw := rng.Int63n(total)
	for i, n := range nodes {
		if n.Full() {
			continue
		}
		draw -= weightOf(n)
		if draw < 0 {
			return i
		}
	}
	return -1
}

// NodeSelect perturbs the draw with a host-seeded source so repeated
// dispatches for one host land on the same node while the pool is
// unchanged.
func (l *loadWeightedRandomScheduler) NodeSelect(nodes []types.NodeInfo, host string) (types.NodeInfo, error) {
	if err := ensureCapacity(nodes, 1); err != nil {
		return types.NodeInfo{}, err
	}
	hasher := fnv.New64a()
	hasher.Write([]byte(host))
	rng := rand.New(rand.NewSource(int64(hasher.Sum64())))
	pick := weightedDraw(nodes, rng)
	if pick < 0 {
		return types.NodeInfo{}, errCapacityRace()
	}
	return nodes[pick], nil
}

func (l *loadWeightedRandomScheduler) BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error) {
	if err := ensureCapacity(nodes, len(hosts)); err != nil {
		return nil, err
	}
	work := workingSet(nodes)
	out := make([]types.NodeInfo, 0, len(hosts))
	for range hosts {
		l.mu.Lock()
		pick := weightedDraw(work, l.rng)
		l.mu.Unlock()
		if pick < 0 {
			return nil, errCapacityRace()
		}
		out = append(out, work[pick])
		work[pick].Count++
	}
	return out, nil
}
