package scheduler

import (
	"sort"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/types"
)

// Scheduler places pinned-host bindings onto nodes. Implementations are
// pure over the NodeInfo snapshot they receive; liveness filtering is the
// dispatcher's job.
type Scheduler interface {
	// NodeSelect picks one node with spare capacity for the host.
	NodeSelect(nodes []types.NodeInfo, host string) (types.NodeInfo, error)

	// BatchNodeSelect picks a node per host, tracking capacity consumed by
	// earlier hosts in the same batch. The result aligns with hosts.
	BatchNodeSelect(nodes []types.NodeInfo, hosts []string) ([]types.NodeInfo, error)
}

// Plugin names accepted in worker.scheduler.
const (
	Greedy             = "greedy"
	LeastLoad          = "least_load"
	LeastLoadRandom    = "least_load_random"
	LoadWeightedRandom = "load_weighted_random"
)

type factory func() Scheduler

var registry = map[string]factory{
	Greedy:             func() Scheduler { return &greedyScheduler{} },
	LeastLoad:          func() Scheduler { return &leastLoadScheduler{} },
	LeastLoadRandom:    func() Scheduler { return newLeastLoadRandom() },
	LoadWeightedRandom: func() Scheduler { return newLoadWeightedRandom() },
}

// New returns the named scheduler plugin.
func New(name string) (Scheduler, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errdefs.NotFoundf("scheduler plugin %q (have %v)", name, Names())
	}
	return f(), nil
}

// Names lists the registered plugins in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ensureCapacity is the shared precondition: the pool must have at least
// want spare slots in total.
func ensureCapacity(nodes []types.NodeInfo, want int) error {
	total := 0
	for _, n := range nodes {
		total += n.Remaining()
	}
	if total < want {
		return errdefs.WorkerUnavailablef(
			"need %d pinned slot(s), %d available across %d node(s)", want, total, len(nodes))
	}
	return nil
}

// workingSet copies the snapshot so batch selection can consume capacity
// without mutating the caller's slice.
func workingSet(nodes []types.NodeInfo) []types.NodeInfo {
	work := make([]types.NodeInfo, len(nodes))
	copy(work, nodes)
	return work
}

// errCapacityRace reports exhaustion hit during selection even though the
// capacity precheck passed.
func errCapacityRace() error {
	return errdefs.WorkerUnavailablef("no node with spare capacity")
}
