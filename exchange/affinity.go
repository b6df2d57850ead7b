package exchange

import (
	"sort"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
)

// affinityOwners computes the ideal replica placement for a partition:
// round-robin over the members sorted by ascending join order. The
// function is pure, so every node derives the same placement for the
// same member set, and placements are stable across runs with the same
// join order.
func affinityOwners(members []cluster.Member, part partition.ID, replicas int) []cluster.NodeID {
	out := make([]cluster.NodeID, 0, replicas)
	if len(members) == 0 || replicas == 0 {
		return out
	}
	if replicas > len(members) {
		replicas = len(members)
	}
	start := int(part) % len(members)
	for i := 0; i < replicas; i++ {
		out = append(out, members[(start+i)%len(members)].ID)
	}
	return out
}

// sortedByOrder returns a copy of the members sorted by ascending join
// order. Membership already hands them out sorted; this guards against
// collaborator slip since affinity determinism depends on it.
func sortedByOrder(members []cluster.Member) []cluster.Member {
	sorted := append([]cluster.Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}
