package timing

import "time"

const (
	// bounded wait for partial maps before stragglers are excluded
	ExchangeTimeout = time.Second * 30
	// forward-progress threshold surfaced for alerting
	ExchangeStallTimeout = time.Second * 5
	// interval between clock delta snapshots
	ClockDeltaInterval = time.Second * 10
)

const (
	// concurrently processed topology versions per node
	DefaultExchangeWorkers = 4
)
