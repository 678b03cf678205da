package mint

import (
	"context"
	"math/big"
)

// Identity is an opaque, platform-issued address for callers and instances.
type Identity string

// Anonymous is the reserved sentinel for unauthenticated callers. It may
// never own the tool or be recorded as an issuer.
const Anonymous Identity = "anonymous"

// IsAnonymous reports whether the identity is the anonymous sentinel.
// The empty string is treated as anonymous so that unset fields never
// slip past the guards.
func (id Identity) IsAnonymous() bool {
	return id == "" || id == Anonymous
}

// ModuleSlot names an installable module payload held by the store.
type ModuleSlot string

const (
	// SlotPrimary holds the token module installed into every issued instance.
	SlotPrimary ModuleSlot = "primary"
	// SlotAuxiliary holds the archive companion module; optional.
	SlotAuxiliary ModuleSlot = "auxiliary"
)

// FeeRateScale is the denominator for Fee.Rate: rates are expressed in
// hundred-millionths.
var FeeRateScale = big.NewInt(100_000_000)

// Fee is a token transfer fee: effective charge for an amount a is
// max(Minimum, a*Rate/1e8).
type Fee struct {
	Minimum *big.Int `json:"minimum"`
	Rate    *big.Int `json:"rate"`
}

// Apply computes the effective charge for the given amount.
func (f Fee) Apply(amount *big.Int) *big.Int {
	charge := new(big.Int)
	if f.Rate != nil && amount != nil {
		charge.Mul(amount, f.Rate)
		charge.Quo(charge, FeeRateScale)
	}
	if f.Minimum != nil && charge.Cmp(f.Minimum) < 0 {
		charge.Set(f.Minimum)
	}
	return charge
}

// TokenRecord is the catalog entry for one successfully issued token.
// Immutable after insertion; keyed by TokenID.
type TokenRecord struct {
	Issuer      Identity `json:"issuer"`
	TokenID     Identity `json:"token_id"`
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	TotalSupply *big.Int `json:"total_supply"`
	TransferFee Fee      `json:"transfer_fee"`
	Timestamp   uint64   `json:"timestamp"`
}

// MintArgs carries the caller-supplied parameters for one issuance request.
// When TargetInstance is set the orchestrator installs into that existing
// instance instead of creating a fresh one.
type MintArgs struct {
	TargetInstance Identity `json:"target_instance,omitempty"`
	SubAccount     []byte   `json:"sub_account,omitempty"`
	Logo           []byte   `json:"logo,omitempty"`
	Name           string   `json:"name"`
	Symbol         string   `json:"symbol"`
	Decimals       uint8    `json:"decimals"`
	TotalSupply    *big.Int `json:"total_supply"`
	TransferFee    Fee      `json:"transfer_fee"`
}

// InstallArgs is the constructor blob passed to the platform install call.
type InstallArgs struct {
	SubAccount  []byte   `json:"sub_account,omitempty"`
	Logo        []byte   `json:"logo,omitempty"`
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	TotalSupply *big.Int `json:"total_supply"`
	TransferFee Fee      `json:"transfer_fee"`
	Issuer      Identity `json:"issuer"`
}

// InstanceStatus is the platform's view of a hosted instance.
type InstanceStatus struct {
	State       string     `json:"state"`
	ModuleHash  []byte     `json:"module_hash,omitempty"`
	Controllers []Identity `json:"controllers"`
	Cycles      *big.Int   `json:"cycles,omitempty"`
}

// HasModule reports whether an installable module is already present.
func (s *InstanceStatus) HasModule() bool {
	return s != nil && len(s.ModuleHash) > 0
}

// IsController reports whether id is in the instance's controller set.
func (s *InstanceStatus) IsController(id Identity) bool {
	if s == nil {
		return false
	}
	for _, c := range s.Controllers {
		if c == id {
			return true
		}
	}
	return false
}

// Platform is the external management API the orchestrator drives.
// Every call is a suspension point: implementations perform remote I/O
// and callers must not hold tool state across them.
type Platform interface {
	CreateInstance(ctx context.Context, cycles uint64, controllers []Identity) (Identity, error)
	InstanceStatus(ctx context.Context, id Identity) (*InstanceStatus, error)
	InstallModule(ctx context.Context, id Identity, module, args []byte) error
	UpdateSettings(ctx context.Context, id Identity, controllers []Identity) error
	Configure(ctx context.Context, id Identity, key string, value Identity) error
	DeleteInstance(ctx context.Context, id Identity) error
}

// FeeLedger debits issuance fees on an external ledger. ledger selects the
// ledger asset the fee is charged in.
type FeeLedger interface {
	Debit(ctx context.Context, ledger Identity, subAccount []byte, from, to Identity, amount *big.Int) (string, error)
}

// AuditSink receives a summary of every issued token. Best effort: the
// orchestrator logs failures and never surfaces them to the caller.
type AuditSink interface {
	TokenIssued(ctx context.Context, record TokenRecord) error
}
