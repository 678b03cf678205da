package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MintPolicy tunes the issuance workflow. All fields are optional; zero
// values fall back to the built-in defaults.
type MintPolicy struct {
	// CyclesPerToken is the resource budget attached to each created
	// instance. Zero keeps the daemon default.
	CyclesPerToken uint64 `yaml:"cycles_per_token"`
	// IssueFee is the flat fee debited per issuance, as a decimal string
	// of base units. Empty disables charging until the owner sets one.
	IssueFee string `yaml:"issue_fee"`
	// FeeLedger is the ledger asset the issue fee is charged in.
	FeeLedger string `yaml:"fee_ledger"`
	// RetainControllers are extra identities kept as controllers of every
	// issued instance.
	RetainControllers []string `yaml:"retain_controllers"`
	// CleanupOrphans deletes a freshly created instance when its module
	// install fails.
	CleanupOrphans bool `yaml:"cleanup_orphans"`
}

// LoadPolicy loads a YAML policy file; returns defaults if missing.
func LoadPolicy(path string) (*MintPolicy, error) {
	if path == "" {
		return &MintPolicy{}, nil
	}
	// #nosec G304 -- policy config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return &MintPolicy{}, fmt.Errorf("read policy config: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses policy config data from YAML bytes.
func ParsePolicy(data []byte) (*MintPolicy, error) {
	var policy MintPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return &MintPolicy{}, fmt.Errorf("parse policy config: %w", err)
	}
	return &policy, nil
}
