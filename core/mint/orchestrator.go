package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/mintforge/mintd/core/infra/logging"
	"github.com/mintforge/mintd/core/infra/metrics"
)

// companionKey is the configuration key set on a token instance to link
// its archive companion.
const companionKey = "archive_instance"

// Orchestrator drives the issuance workflow against the external
// collaborators. All of its state lives in the Tool; the orchestrator
// itself only carries wiring.
type Orchestrator struct {
	tool     *Tool
	platform Platform
	ledger   FeeLedger
	audit    AuditSink
	metrics  metrics.Metrics
	inflight *inflightSet

	retainControllers []Identity
	cleanupOrphans    bool
	now               func() time.Time
}

func NewOrchestrator(tool *Tool, platform Platform, ledger FeeLedger, audit AuditSink, m metrics.Metrics) *Orchestrator {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Orchestrator{
		tool:     tool,
		platform: platform,
		ledger:   ledger,
		audit:    audit,
		metrics:  m,
		inflight: newInflightSet(),
		now:      time.Now,
	}
}

// WithPolicy configures extra controllers retained on issued instances and
// whether a failed install tears down the freshly created instance.
func (o *Orchestrator) WithPolicy(retainControllers []Identity, cleanupOrphans bool) *Orchestrator {
	o.retainControllers = append([]Identity(nil), retainControllers...)
	o.cleanupOrphans = cleanupOrphans
	return o
}

// WithClock overrides the timestamp source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

// Mint issues a token: it either creates a fresh instance or adopts the
// caller-supplied target, installs the primary module, tightens the
// controller set, optionally provisions an archive companion, and records
// the result in the catalog. Returns the token's instance id.
//
// Guard checks and the module fetch happen before any external call; the
// fetched bytes are the request's immutable copy. The catalog insert
// happens only after every fatal step has succeeded, so a failed request
// never leaves a partial entry.
func (o *Orchestrator) Mint(ctx context.Context, caller Identity, args MintArgs) (Identity, error) {
	// Local segment: preconditions and state copies, no suspension points.
	o.tool.mu.Lock()
	if err := o.tool.requireInitialized(); err != nil {
		o.tool.mu.Unlock()
		return "", err
	}
	if caller.IsAnonymous() {
		o.tool.mu.Unlock()
		return "", ErrInvalidIssuer
	}
	module, err := o.tool.moduleLocked(SlotPrimary)
	if err != nil {
		o.tool.mu.Unlock()
		return "", err
	}
	auxModule, _ := o.tool.moduleLocked(SlotAuxiliary)
	feeLedger, feeAmount, feeEnabled := o.tool.issueFeeConfig()
	cycles := o.tool.cycleBudget
	self := o.tool.self
	o.tool.mu.Unlock()

	o.metrics.IncMintStarted()
	logging.Info("mint", "issuance started", "caller", caller, "name", args.Name, "symbol", args.Symbol)

	installArgs, err := json.Marshal(InstallArgs{
		SubAccount:  args.SubAccount,
		Logo:        args.Logo,
		Name:        args.Name,
		Symbol:      args.Symbol,
		Decimals:    args.Decimals,
		TotalSupply: args.TotalSupply,
		TransferFee: args.TransferFee,
		Issuer:      caller,
	})
	if err != nil {
		o.metrics.IncMintCompleted("failed")
		return "", fmt.Errorf("encode install args: %w", err)
	}

	// Adopt requests reserve their target before the first external
	// call. A request that loses the overlap race is rejected before the
	// fee debit, never after.
	var tokenID Identity
	adopt := !args.TargetInstance.IsAnonymous()
	if adopt {
		tokenID = args.TargetInstance
		if !o.inflight.acquire(tokenID) {
			o.metrics.IncMintCompleted("in_progress")
			return "", ErrMintInProgress
		}
		defer o.inflight.release(tokenID)
	}

	if feeEnabled {
		if err := o.chargeIssueFee(ctx, feeLedger, args.SubAccount, caller, self, feeAmount); err != nil {
			o.metrics.IncMintCompleted("fee_failed")
			return "", err
		}
	}

	var controllers []Identity
	created := false

	if adopt {
		status, err := o.instanceStatus(ctx, tokenID)
		if err != nil {
			o.metrics.IncMintCompleted("status_failed")
			return "", err
		}
		if !status.IsController(caller) {
			o.metrics.IncMintCompleted("denied")
			return "", ErrCallerNotController
		}
		if status.HasModule() {
			o.metrics.IncMintCompleted("already_installed")
			return "", ErrAlreadyInstalled
		}
		controllers = status.Controllers
	} else {
		tokenID, err = o.createInstance(ctx, cycles, caller, self)
		if err != nil {
			o.metrics.IncMintCompleted("create_failed")
			return "", err
		}
		created = true
		// Fresh id: the reservation cannot collide, but it closes the
		// window against an adopt request racing the rest of this flow.
		o.inflight.acquire(tokenID)
		defer o.inflight.release(tokenID)
		controllers = append([]Identity{caller, self}, o.retainControllers...)
	}

	if err := o.installModule(ctx, tokenID, module, installArgs); err != nil {
		o.metrics.IncMintCompleted("install_failed")
		if created && o.cleanupOrphans {
			o.deleteOrphan(ctx, tokenID)
		}
		return "", err
	}

	// The instance is usable from here on; the remaining external steps
	// are best effort and never fail the request.
	o.tightenControllers(ctx, tokenID, controllers, self)

	if created && len(auxModule) > 0 {
		o.provisionCompanion(ctx, caller, self, cycles, tokenID, auxModule)
	}

	record := TokenRecord{
		Issuer:      caller,
		TokenID:     tokenID,
		Name:        args.Name,
		Symbol:      args.Symbol,
		Decimals:    args.Decimals,
		TotalSupply: args.TotalSupply,
		TransferFee: args.TransferFee,
		Timestamp:   uint64(o.now().UnixNano()),
	}

	o.tool.mu.Lock()
	o.tool.catalog.Insert(record)
	o.tool.mu.Unlock()

	if o.audit != nil {
		if err := o.audit.TokenIssued(ctx, record); err != nil {
			logging.Error("mint", "audit sink write failed", "token_id", tokenID, "error", err)
		}
	}

	o.metrics.IncMintCompleted("succeeded")
	logging.Info("mint", "issuance succeeded", "token_id", tokenID, "issuer", caller)
	return tokenID, nil
}

func (o *Orchestrator) chargeIssueFee(ctx context.Context, ledger Identity, subAccount []byte, from, to Identity, amount *big.Int) error {
	if o.ledger == nil {
		return errFeeChargeFailed("no fee ledger client configured")
	}
	txID, err := o.ledger.Debit(ctx, ledger, subAccount, from, to, amount)
	if err != nil {
		o.metrics.IncExternalCall("fee_debit", "error")
		logging.Error("mint", "issue fee debit failed", "caller", from, "error", err)
		return errFeeChargeFailed(err.Error())
	}
	o.metrics.IncExternalCall("fee_debit", "ok")
	logging.Info("mint", "issue fee debited", "caller", from, "amount", amount.String(), "tx_id", txID)
	return nil
}

func (o *Orchestrator) createInstance(ctx context.Context, cycles uint64, caller, self Identity) (Identity, error) {
	id, err := o.platform.CreateInstance(ctx, cycles, []Identity{caller, self})
	if err != nil {
		o.metrics.IncExternalCall("create_instance", "error")
		logging.Error("mint", "instance creation failed", "error", err)
		return "", errRemote(err)
	}
	o.metrics.IncExternalCall("create_instance", "ok")
	logging.Info("mint", "instance created", "instance_id", id)
	return id, nil
}

func (o *Orchestrator) instanceStatus(ctx context.Context, id Identity) (*InstanceStatus, error) {
	status, err := o.platform.InstanceStatus(ctx, id)
	if err != nil {
		o.metrics.IncExternalCall("instance_status", "error")
		return nil, errRemote(err)
	}
	o.metrics.IncExternalCall("instance_status", "ok")
	return status, nil
}

func (o *Orchestrator) installModule(ctx context.Context, id Identity, module, args []byte) error {
	if err := o.platform.InstallModule(ctx, id, module, args); err != nil {
		o.metrics.IncExternalCall("install_module", "error")
		logging.Error("mint", "module install failed", "instance_id", id, "error", err)
		return errInstallFailed(err.Error())
	}
	o.metrics.IncExternalCall("install_module", "ok")
	return nil
}

// tightenControllers removes the orchestrator's own identity from the
// instance's controller set. The token stays usable if this fails, so the
// failure is reported but not surfaced.
func (o *Orchestrator) tightenControllers(ctx context.Context, id Identity, controllers []Identity, self Identity) {
	kept := make([]Identity, 0, len(controllers))
	for _, c := range controllers {
		if c != self {
			kept = append(kept, c)
		}
	}
	if err := o.platform.UpdateSettings(ctx, id, kept); err != nil {
		o.metrics.IncExternalCall("update_settings", "error")
		logging.Error("mint", "controller tightening failed", "instance_id", id, "error", err)
		return
	}
	o.metrics.IncExternalCall("update_settings", "ok")
}

// provisionCompanion creates and installs the archive companion instance
// and links it to the token. Entirely best effort: the token issuance has
// already succeeded.
func (o *Orchestrator) provisionCompanion(ctx context.Context, caller, self Identity, cycles uint64, tokenID Identity, module []byte) {
	companionID, err := o.platform.CreateInstance(ctx, cycles, []Identity{caller, self})
	if err != nil {
		o.metrics.IncExternalCall("create_instance", "error")
		logging.Error("mint", "companion creation failed", "token_id", tokenID, "error", err)
		return
	}
	o.metrics.IncExternalCall("create_instance", "ok")

	args, err := json.Marshal(map[string]Identity{"token_id": tokenID})
	if err != nil {
		logging.Error("mint", "companion args encode failed", "token_id", tokenID, "error", err)
		return
	}
	if err := o.platform.InstallModule(ctx, companionID, module, args); err != nil {
		o.metrics.IncExternalCall("install_module", "error")
		logging.Error("mint", "companion install failed", "companion_id", companionID, "error", err)
		return
	}
	o.metrics.IncExternalCall("install_module", "ok")

	if err := o.platform.Configure(ctx, tokenID, companionKey, companionID); err != nil {
		o.metrics.IncExternalCall("configure", "error")
		logging.Error("mint", "companion link failed", "token_id", tokenID, "companion_id", companionID, "error", err)
		return
	}
	o.metrics.IncExternalCall("configure", "ok")
	logging.Info("mint", "companion linked", "token_id", tokenID, "companion_id", companionID)
}

func (o *Orchestrator) deleteOrphan(ctx context.Context, id Identity) {
	if err := o.platform.DeleteInstance(ctx, id); err != nil {
		o.metrics.IncExternalCall("delete_instance", "error")
		logging.Error("mint", "orphan cleanup failed", "instance_id", id, "error", err)
		return
	}
	o.metrics.IncExternalCall("delete_instance", "ok")
	logging.Info("mint", "orphaned instance deleted", "instance_id", id)
}
