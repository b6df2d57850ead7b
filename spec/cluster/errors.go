package cluster

import (
	"context"
	"errors"
)

var (
	ErrExchangeStalled        = errorDef("cluster/exchange: round made no forward progress within the stall timeout", true)
	ErrOwnershipTransitioning = errorDef("cluster/exchange: partition ownership is transitioning, retry", true)
	ErrCoordinatorChanged     = errorDef("cluster/exchange: coordinator left mid-round, round is being restarted", true)
	ErrPeerUnreachable        = errorDef("cluster/transport: peer cannot be reached", true)

	ErrOrderingViolation  = errorDef("cluster/order: observed join order is inconsistent with causal history", false)
	ErrOrderAssigned      = errorDef("cluster/order: node was already assigned a join order", false)
	ErrMemberUnknown      = errorDef("cluster/order: node is not an admitted member", false)
	ErrStaleVersion       = errorDef("cluster/exchange: topology version is below the highest completed exchange", false)
	ErrExchangeSuperseded = errorDef("cluster/exchange: round was superseded by a newer topology version", false)
	ErrUnmergeableSchema  = errorDef("cluster/exchange: partial maps disagree on cache schema", false)
	ErrPartitionLost      = errorDef("cluster/partition: no healthy owner survived for partition", false)
	ErrChannelClosed      = errorDef("cluster/transport: exchange channel is closed", false)
	ErrNodeNotStarted     = errorDef("cluster: node is not running", false)
)

// ErrorIsRetryable classifies wrapped errors as well, since transport
// and exchange layers annotate the sentinels with peer context.
func ErrorIsRetryable(err error) bool {
	if retryableMap[err] {
		return true
	}
	for def, retryable := range retryableMap {
		if retryable && errors.Is(err, def) {
			return true
		}
	}
	return false
}

var retryableMap map[error]bool = map[error]bool{
	context.DeadlineExceeded: true,
}

func errorDef(str string, retryable bool) error {
	err := errors.New(str)
	retryableMap[err] = retryable
	return err
}
