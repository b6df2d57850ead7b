package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.wirecache.dev/wirecache/exchange"
	"go.wirecache.dev/wirecache/membership"
	"go.wirecache.dev/wirecache/order"
	"go.wirecache.dev/wirecache/rebalance"
	"go.wirecache.dev/wirecache/storage/loopback"
	"go.wirecache.dev/wirecache/transport/memchan"
	"go.wirecache.dev/wirecache/util/testcond"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func makeNode(t *testing.T) (*exchange.Manager, *membership.Roster, func()) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	orders := order.NewService(logger)
	roster := membership.NewRoster(logger, orders)
	wire := memchan.NewCluster(logger)
	endpoint := wire.Join(1)
	member, err := roster.Admit(1, "127.0.0.1:18700")
	require.NoError(t, err)

	engine := loopback.NewEngine(logger)
	trigger, err := rebalance.NewTrigger(rebalance.TriggerConfig{
		Logger: logger,
		Self:   1,
		Engine: engine,
	})
	require.NoError(t, err)

	manager, err := exchange.NewManager(exchange.ManagerConfig{
		Logger:             logger,
		Self:               member,
		Membership:         roster,
		Channel:            endpoint,
		Orders:             orders,
		Trigger:            trigger,
		Caches:             []exchange.CacheConfig{{Name: "tenants", Partitions: 4, Backups: 1}},
		ExchangeTimeout:    time.Second,
		StallTimeout:       time.Second,
		ClockDeltaInterval: time.Hour,
		Workers:            2,
	})
	require.NoError(t, err)
	trigger.Bind(manager)
	engine.Bind(trigger)
	require.NoError(t, manager.Start())

	return manager, roster, func() {
		manager.Stop()
		engine.Drain()
	}
}

func TestStatusEndpoint(t *testing.T) {
	assert := assert.New(t)

	manager, roster, stop := makeNode(t)
	defer stop()

	handler := Handler(manager, roster)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/status", nil))
	assert.Equal(http.StatusOK, recorder.Code)
	assert.Contains(recorder.Header().Get("Content-Type"), "application/json")

	var status struct {
		CurrentVersion string `json:"currentVersion"`
		AppliedVersion string `json:"appliedVersion"`
		Members        []struct {
			ID    uint64 `json:"id"`
			Order uint64 `json:"order"`
		} `json:"members"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&status))
	assert.Equal("0.0", status.AppliedVersion)
	require.Len(t, status.Members, 1)
	assert.Equal(uint64(1), status.Members[0].ID)
	assert.Equal(uint64(1), status.Members[0].Order)
}

func TestPartitionsEndpoint(t *testing.T) {
	assert := assert.New(t)

	manager, roster, stop := makeNode(t)
	defer stop()

	handler := Handler(manager, roster)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/partitions/tenants", nil))
	assert.Equal(http.StatusNotFound, recorder.Code, "no map published before the first exchange")

	// a cache lifecycle event forces an exchange even on a lone node
	require.NoError(t, manager.StartCache(exchange.CacheConfig{Name: "sessions", Partitions: 2, Backups: 0}))
	require.NoError(t, testcond.WaitForCondition(func() bool {
		_, ok := manager.PublishedMap("tenants")
		return ok
	}, 10*time.Millisecond, 5*time.Second))

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/partitions/tenants", nil))
	assert.Equal(http.StatusOK, recorder.Code)

	var status struct {
		Cache      string `json:"cache"`
		Version    string `json:"version"`
		Partitions []struct {
			Partition uint32 `json:"partition"`
			Owners    []struct {
				Node  uint64 `json:"node"`
				State string `json:"state"`
			} `json:"owners"`
		} `json:"partitions"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&status))
	assert.Equal("tenants", status.Cache)
	require.Len(t, status.Partitions, 4)
	for _, p := range status.Partitions {
		require.Len(t, p.Owners, 1, "a lone node has no backups to place")
		assert.Equal(uint64(1), p.Owners[0].Node)
		assert.Equal("OWNING", p.Owners[0].State)
	}
}
