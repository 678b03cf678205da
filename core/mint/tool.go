package mint

import (
	"math/big"
	"sync"
)

// DefaultCycleBudget is the resource budget attached to every created
// instance unless the owner overrides it.
const DefaultCycleBudget uint64 = 2_000_000_000_000

// AccessState is the initialization latch plus the owning identity.
type AccessState struct {
	Initialized bool     `json:"initialized"`
	Owner       Identity `json:"owner"`
}

// Tool is the single state object for the issuance service: access guard,
// module store, fee configuration, and catalog. It is constructed once at
// process start and shared by the orchestrator and the request surface.
//
// The mutex is held only for local segments. It must never be held across
// a Platform, FeeLedger, or AuditSink call; anything needed after such a
// call is copied out first.
type Tool struct {
	mu sync.Mutex

	self        Identity
	access      AccessState
	modules     map[ModuleSlot][]byte
	feeLedger   Identity
	issueFee    *big.Int
	cycleBudget uint64
	catalog     *Catalog
}

// NewTool constructs a zero-initialized tool. self is this orchestrator's
// own platform identity, used as a temporary controller of created
// instances.
func NewTool(self Identity) *Tool {
	return &Tool{
		self:        self,
		access:      AccessState{Owner: Anonymous},
		modules:     make(map[ModuleSlot][]byte),
		cycleBudget: DefaultCycleBudget,
		catalog:     NewCatalog(),
	}
}

// Self returns the orchestrator's own platform identity.
func (t *Tool) Self() Identity { return t.self }

// SetIssueFee configures the flat fee debited on every issuance. An
// anonymous ledger or zero amount disables charging.
func (t *Tool) SetIssueFee(caller, ledger Identity, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireInitialized(); err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return err
	}
	t.feeLedger = ledger
	if amount == nil {
		t.issueFee = nil
	} else {
		t.issueFee = new(big.Int).Set(amount)
	}
	return nil
}

// SetCycleBudget configures the resource budget per created instance.
func (t *Tool) SetCycleBudget(caller Identity, cycles uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireInitialized(); err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return err
	}
	if cycles == 0 {
		cycles = DefaultCycleBudget
	}
	t.cycleBudget = cycles
	return nil
}

// SeedCycleBudget sets the budget without an owner check, for policy
// bootstrap before the tool is initialized.
func (t *Tool) SeedCycleBudget(cycles uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cycles == 0 {
		cycles = DefaultCycleBudget
	}
	t.cycleBudget = cycles
}

// SeedIssueFee sets the fee config without an owner check, for policy
// bootstrap before the tool is initialized.
func (t *Tool) SeedIssueFee(ledger Identity, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.feeLedger = ledger
	if amount == nil {
		t.issueFee = nil
		return
	}
	t.issueFee = new(big.Int).Set(amount)
}

// Status is the owner-facing summary of the tool's configuration.
type Status struct {
	Initialized bool     `json:"initialized"`
	Owner       Identity `json:"owner"`
	FeeLedger   Identity `json:"fee_ledger,omitempty"`
	IssueFee    *big.Int `json:"issue_fee,omitempty"`
	CycleBudget uint64   `json:"cycle_budget"`
	TokenCount  int      `json:"token_count"`
	Modules     []string `json:"modules,omitempty"`
}

// Status reports the current configuration and issuance count.
func (t *Tool) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{
		Initialized: t.access.Initialized,
		Owner:       t.access.Owner,
		FeeLedger:   t.feeLedger,
		CycleBudget: t.cycleBudget,
		TokenCount:  t.catalog.Count(),
	}
	if t.issueFee != nil {
		st.IssueFee = new(big.Int).Set(t.issueFee)
	}
	for _, slot := range []ModuleSlot{SlotPrimary, SlotAuxiliary} {
		if len(t.modules[slot]) > 0 {
			st.Modules = append(st.Modules, string(slot))
		}
	}
	return st
}

// GetToken returns the catalog record for an issued token.
func (t *Tool) GetToken(id Identity) (TokenRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.catalog.Get(id)
}

// ListTokens pages through the catalog in insertion order.
func (t *Tool) ListTokens(start, size int) []TokenRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.catalog.List(start, size)
}

// TokenCount returns the number of issued tokens.
func (t *Tool) TokenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.catalog.Count()
}

// issueFeeConfig returns the fee ledger and a copy of the configured fee,
// or false when charging is disabled.
func (t *Tool) issueFeeConfig() (Identity, *big.Int, bool) {
	if t.feeLedger.IsAnonymous() || t.issueFee == nil || t.issueFee.Sign() <= 0 {
		return "", nil, false
	}
	return t.feeLedger, new(big.Int).Set(t.issueFee), true
}
