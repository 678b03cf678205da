package mint

import (
	"encoding/json"
	"fmt"
	"math/big"
)

const snapshotVersion = 1

// Snapshot is the serialized form of all durable tool state, written at a
// controlled shutdown and read back after restart. save-then-restore is
// loss-less for every field.
type Snapshot struct {
	Version     int                   `json:"version"`
	Access      AccessState           `json:"access"`
	Modules     map[ModuleSlot][]byte `json:"modules,omitempty"`
	FeeLedger   Identity              `json:"fee_ledger,omitempty"`
	IssueFee    *big.Int              `json:"issue_fee,omitempty"`
	CycleBudget uint64                `json:"cycle_budget"`
	Catalog     []TokenRecord         `json:"catalog,omitempty"`
}

// Snapshot captures the tool's full durable state as one payload.
// Serialization failure must abort the shutdown that requested it.
func (t *Tool) Snapshot() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Version:     snapshotVersion,
		Access:      t.access,
		CycleBudget: t.cycleBudget,
		FeeLedger:   t.feeLedger,
		Catalog:     t.catalog.Records(),
	}
	if t.issueFee != nil {
		snap.IssueFee = new(big.Int).Set(t.issueFee)
	}
	if len(t.modules) > 0 {
		snap.Modules = make(map[ModuleSlot][]byte, len(t.modules))
		for slot, module := range t.modules {
			snap.Modules[slot] = append([]byte(nil), module...)
		}
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("serialize snapshot: %w", err)
	}
	return payload, nil
}

// Restore replaces the tool's state with the snapshot payload. A corrupt
// or unversioned payload is rejected and the tool keeps its current
// (zero-initialized) state so operators can re-initialize.
func (t *Tool) Restore(payload []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.access = snap.Access
	if t.access.Owner == "" {
		t.access.Owner = Anonymous
	}
	t.modules = make(map[ModuleSlot][]byte, len(snap.Modules))
	for slot, module := range snap.Modules {
		if len(module) > 0 {
			t.modules[slot] = append([]byte(nil), module...)
		}
	}
	t.feeLedger = snap.FeeLedger
	if snap.IssueFee != nil {
		t.issueFee = new(big.Int).Set(snap.IssueFee)
	} else {
		t.issueFee = nil
	}
	if snap.CycleBudget > 0 {
		t.cycleBudget = snap.CycleBudget
	} else {
		t.cycleBudget = DefaultCycleBudget
	}
	t.catalog = NewCatalog()
	for _, record := range snap.Catalog {
		t.catalog.Insert(record)
	}
	return nil
}
