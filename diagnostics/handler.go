// Package diagnostics exposes a node's exchange state over HTTP for
// operational inspection.
package diagnostics

import (
	"encoding/json"
	"net/http"

	"go.wirecache.dev/wirecache/exchange"
	"go.wirecache.dev/wirecache/spec/cluster"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func Handler(manager *exchange.Manager, membership cluster.Membership) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.URLFormat)
	router.Get("/status", statusHandler(manager, membership))
	router.Get("/partitions/{cache}", partitionsHandler(manager))

	return router
}

type memberStatus struct {
	ID      uint64 `json:"id"`
	Order   uint64 `json:"order"`
	Address string `json:"address,omitempty"`
}

type nodeStatus struct {
	CurrentVersion string         `json:"currentVersion"`
	AppliedVersion string         `json:"appliedVersion"`
	Members        []memberStatus `json:"members"`
}

func statusHandler(manager *exchange.Manager, membership cluster.Membership) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := nodeStatus{
			CurrentVersion: manager.CurrentVersion().String(),
			AppliedVersion: manager.AppliedVersion().String(),
		}
		for _, m := range membership.CurrentMembers() {
			status.Members = append(status.Members, memberStatus{
				ID:      uint64(m.ID),
				Order:   uint64(m.Order),
				Address: m.Address,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

type ownerStatus struct {
	Node  uint64 `json:"node"`
	State string `json:"state"`
}

type partitionStatus struct {
	Partition uint32        `json:"partition"`
	Lost      bool          `json:"lost,omitempty"`
	Owners    []ownerStatus `json:"owners"`
}

type cacheStatus struct {
	Cache      string            `json:"cache"`
	Version    string            `json:"version"`
	Partitions []partitionStatus `json:"partitions"`
}

func partitionsHandler(manager *exchange.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cache := chi.URLParam(r, "cache")
		fm, ok := manager.PublishedMap(cache)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status := cacheStatus{
			Cache:   fm.Cache,
			Version: fm.Version.String(),
		}
		for _, id := range fm.SortedIDs() {
			ps := partitionStatus{
				Partition: uint32(id),
				Lost:      fm.Lost[id],
			}
			for _, e := range fm.Partitions[id] {
				ps.Owners = append(ps.Owners, ownerStatus{
					Node:  uint64(e.Node),
					State: e.State.String(),
				})
			}
			status.Partitions = append(status.Partitions, ps)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
