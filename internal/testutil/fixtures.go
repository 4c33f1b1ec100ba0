package testutil

import (
	"embed"
	"encoding/json"

	"github.com/firefly-engineering/browserpool/internal/config"
	"github.com/firefly-engineering/browserpool/internal/instance"
)

//go:embed fixtures/*
var fixturesFS embed.FS

// LoadFixture loads a fixture file by name.
func LoadFixture(name string) ([]byte, error) {
	return fixturesFS.ReadFile("fixtures/" + name)
}

// LoadConfigFixture parses a TOML config fixture.
func LoadConfigFixture(name string) (*config.Config, error) {
	data, err := LoadFixture(name)
	if err != nil {
		return nil, err
	}
	return config.Parse(data, name)
}

// ValidConfig returns the valid config fixture.
func ValidConfig() (*config.Config, error) {
	return LoadConfigFixture("valid_config.toml")
}

// InvalidConfig parses the invalid config fixture; the error is expected.
func InvalidConfig() (*config.Config, error) {
	return LoadConfigFixture("invalid_config.toml")
}

// SnapshotSlots returns a four slot pool snapshot covering idle,
// starting and both allocated modes.
func SnapshotSlots() ([]instance.Slot, error) {
	data, err := LoadFixture("slots.json")
	if err != nil {
		return nil, err
	}
	var slots []instance.Slot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}
