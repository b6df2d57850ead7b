package cluster

// State is the partition ownership lifecycle for one node.
type State uint8

const (
	// No data for this partition on this node
	Evicted State = iota
	// Receiving data for this partition
	Moving
	// Authoritative for reads and writes
	Owning
	// Shedding the partition, still serving old reads until evicted
	Renting
)

func (s State) String() string {
	switch s {
	case Evicted:
		return "EVICTED"
	case Moving:
		return "MOVING"
	case Owning:
		return "OWNING"
	case Renting:
		return "RENTING"
	default:
		return "UNKNOWN"
	}
}

// HoldsData reports whether a node in this state still has a readable
// copy of the partition.
func (s State) HoldsData() bool {
	return s == Moving || s == Owning || s == Renting
}
