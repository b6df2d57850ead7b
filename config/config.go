package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.wirecache.dev/wirecache/timing"

	"github.com/goccy/go-yaml"
)

// Cache declares one cache's partition space.
type Cache struct {
	Name       string `yaml:"name"`
	Partitions uint32 `yaml:"partitions"`
	Backups    int    `yaml:"backups"`
}

// Node is the YAML configuration of one cluster node.
type Node struct {
	Name          string        `yaml:"name"`
	ListenAddress string        `yaml:"listenAddress"`
	StatusAddress string        `yaml:"statusAddress"`
	Caches        []Cache       `yaml:"caches"`
	Exchange      ExchangeKnobs `yaml:"exchange"`
}

type ExchangeKnobs struct {
	Timeout            time.Duration `yaml:"timeout"`
	StallTimeout       time.Duration `yaml:"stallTimeout"`
	ClockDeltaInterval time.Duration `yaml:"clockDeltaInterval"`
	Workers            int           `yaml:"workers"`
}

func Default() Node {
	return Node{
		Name:          "wirecache-1",
		ListenAddress: "127.0.0.1:18700",
		StatusAddress: "127.0.0.1:18780",
		Caches: []Cache{
			{Name: "default", Partitions: 64, Backups: 1},
		},
		Exchange: ExchangeKnobs{
			Timeout:            timing.ExchangeTimeout,
			StallTimeout:       timing.ExchangeStallTimeout,
			ClockDeltaInterval: timing.ClockDeltaInterval,
			Workers:            timing.DefaultExchangeWorkers,
		},
	}
}

func Load(path string) (Node, error) {
	node := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return node, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return node, fmt.Errorf("parsing config: %w", err)
	}
	if err := node.Validate(); err != nil {
		return node, err
	}
	return node, nil
}

func (n *Node) Validate() error {
	if n.Name == "" {
		return errors.New("node name must not be empty")
	}
	if len(n.Caches) == 0 {
		return errors.New("at least one cache must be configured")
	}
	seen := make(map[string]bool)
	for _, c := range n.Caches {
		if c.Name == "" {
			return errors.New("cache name must not be empty")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate cache %q", c.Name)
		}
		seen[c.Name] = true
		if c.Partitions == 0 {
			return fmt.Errorf("cache %q: partitions must be positive", c.Name)
		}
		if c.Backups < 0 {
			return fmt.Errorf("cache %q: backups must not be negative", c.Name)
		}
	}
	if n.Exchange.Timeout <= 0 || n.Exchange.StallTimeout <= 0 || n.Exchange.ClockDeltaInterval <= 0 {
		return errors.New("exchange timeouts must be positive")
	}
	if n.Exchange.Workers <= 0 {
		return errors.New("exchange workers must be positive")
	}
	return nil
}
