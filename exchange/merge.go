package exchange

import (
	"fmt"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/spec/topology"

	"go.uber.org/zap"
)

// CacheConfig declares the shape of one cache's partition space.
type CacheConfig struct {
	Name       string
	Partitions uint32
	Backups    int
}

func (c CacheConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("empty cache name")
	}
	if c.Partitions == 0 {
		return fmt.Errorf("cache %s: partition count must be positive", c.Name)
	}
	if c.Backups < 0 {
		return fmt.Errorf("cache %s: negative backup count", c.Name)
	}
	return nil
}

type claim struct {
	node  cluster.NodeID
	order cluster.Order
	state cluster.State
}

// mergeFullMap builds the authoritative map of one cache for one
// topology version out of the collected partial maps.
//
// Claim precedence per partition: OWNING beats MOVING/RENTING.
// Multiple OWNING claims for one partition must never arise under
// correct operation; when detected, the claimant with the lowest join
// order wins deterministically and a consistency warning is surfaced.
// Partitions left without a surviving authoritative claimant are
// promoted from a surviving holder, or re-assigned by affinity; if
// data existed before and no holder survived, the partition is
// explicitly marked lost. Backups are filled from the affinity
// placement and enter the map as MOVING replicas.
func mergeFullMap(
	logger *zap.Logger,
	version topology.Version,
	cfg CacheConfig,
	replies []*protocol.PartialMapReply,
	prev *partition.FullMap,
	members []cluster.Member,
) (*partition.FullMap, error) {
	sorted := sortedByOrder(members)
	alive := make(map[cluster.NodeID]cluster.Member, len(sorted))
	for _, m := range sorted {
		alive[m.ID] = m
	}

	claims := make(map[partition.ID][]claim)
	for _, reply := range replies {
		member, ok := alive[reply.Sender]
		if !ok {
			// departed mid-round, its claims are excluded from the merge
			continue
		}
		for _, e := range reply.Entries {
			if e.Cache != cfg.Name {
				continue
			}
			if uint32(e.Partition) >= cfg.Partitions {
				return nil, fmt.Errorf("%w: cache %s partial from node %d claims partition %d of %d",
					cluster.ErrUnmergeableSchema, cfg.Name, reply.Sender, e.Partition, cfg.Partitions)
			}
			claims[e.Partition] = append(claims[e.Partition], claim{
				node:  reply.Sender,
				order: member.Order,
				state: e.State,
			})
		}
	}

	merged := partition.NewFullMap(cfg.Name, version)
	for p := partition.ID(0); uint32(p) < cfg.Partitions; p++ {
		owner, lost := electOwner(logger, cfg.Name, p, claims[p], prev)

		replicas := affinityOwners(sorted, p, cfg.Backups+1)
		entries := make([]partition.OwnerEntry, 0, cfg.Backups+1)
		if owner != 0 {
			entries = append(entries, partition.OwnerEntry{Node: owner, State: cluster.Owning})
		} else if len(replicas) > 0 {
			owner = replicas[0]
			entries = append(entries, partition.OwnerEntry{Node: owner, State: cluster.Owning})
		}
		for _, node := range replicas {
			if node == owner || len(entries) > cfg.Backups {
				continue
			}
			entries = append(entries, partition.OwnerEntry{Node: node, State: cluster.Moving})
		}
		merged.Partitions[p] = entries
		if lost {
			merged.Lost[p] = true
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// electOwner picks the surviving authoritative claimant, falling back
// to promoting a surviving data holder. Returns 0 when affinity must
// assign fresh; lost is set when previously-held data has no surviving
// copy.
func electOwner(logger *zap.Logger, cache string, p partition.ID, claimants []claim, prev *partition.FullMap) (owner cluster.NodeID, lost bool) {
	var (
		owning  []claim
		holders []claim
	)
	for _, c := range claimants {
		if c.state == cluster.Owning {
			owning = append(owning, c)
		}
		if c.state.HoldsData() {
			holders = append(holders, c)
		}
	}

	if len(owning) > 1 {
		logger.Warn("Split ownership detected, resolving to lowest join order",
			zap.String("cache", cache),
			zap.Uint32("partition", uint32(p)),
			zap.Int("claimants", len(owning)),
		)
	}
	if len(owning) > 0 {
		return lowestOrder(owning).node, false
	}
	if len(holders) > 0 {
		promoted := lowestOrder(holders)
		logger.Info("Promoting surviving holder to owner",
			zap.String("cache", cache),
			zap.Uint32("partition", uint32(p)),
			zap.Uint64("node", uint64(promoted.node)),
		)
		return promoted.node, false
	}

	// nobody claims data; if data existed before, this is a loss window
	// and it must be recorded, never silently dropped
	if prev != nil && len(prev.Holders(p)) > 0 {
		logger.Error("No surviving copy of partition, marking lost",
			zap.String("cache", cache),
			zap.Uint32("partition", uint32(p)),
		)
		lost = true
	}
	return 0, lost
}

func lowestOrder(claimants []claim) claim {
	winner := claimants[0]
	for _, c := range claimants[1:] {
		if c.order < winner.order {
			winner = c
		}
	}
	return winner
}
