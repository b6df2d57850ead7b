package order

import (
	"sync"
	"time"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/util"

	"github.com/montanaflynn/stats"
	"github.com/zhangyunhao116/skipmap"
)

// how many clock delta samples to retain per peer
const deltaWindow = 128

type deltaPoint struct {
	time  time.Time
	value float64
}

type deltaSeries struct {
	mu   sync.RWMutex
	data []deltaPoint
}

type delta struct {
	series *skipmap.Uint64Map[*deltaSeries]
}

func newDelta() *delta {
	return &delta{
		series: skipmap.NewUint64[*deltaSeries](),
	}
}

func (d *delta) record(node cluster.NodeID, value float64) {
	c, _ := d.series.LoadOrStoreLazy(uint64(node), func() *deltaSeries {
		return &deltaSeries{
			data: make([]deltaPoint, 0),
		}
	})
	c.mu.Lock()
	if len(c.data) >= deltaWindow {
		c.data = c.data[1:]
	}
	c.data = append(c.data, deltaPoint{
		time:  time.Now(),
		value: value,
	})
	c.mu.Unlock()
}

// DeltaStatistics summarizes the clock delta samples recorded for one
// peer, in milliseconds.
type DeltaStatistics struct {
	Since             time.Time
	Until             time.Time
	Samples           int
	Min               float64
	Average           float64
	Max               float64
	StandardDeviation float64
}

func (d *delta) snapshot(node cluster.NodeID) *DeltaStatistics {
	c, ok := d.series.Load(uint64(node))
	if !ok {
		return nil
	}
	c.mu.RLock()
	values := make([]float64, 0, len(c.data))
	var since, until time.Time
	for _, p := range c.data {
		if since.IsZero() {
			since = p.time
		}
		until = p.time
		values = append(values, p.value)
	}
	c.mu.RUnlock()
	if len(values) < 1 {
		return nil
	}
	return &DeltaStatistics{
		Since:             since,
		Until:             until,
		Samples:           len(values),
		Min:               util.Must(stats.Min(values)),
		Average:           util.Must(stats.Mean(values)),
		Max:               util.Must(stats.Max(values)),
		StandardDeviation: util.Must(stats.StandardDeviation(values)),
	}
}

func (d *delta) drop(node cluster.NodeID) {
	d.series.Delete(uint64(node))
}
