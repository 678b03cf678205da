package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"
)

// fakePlatform implements Platform in memory. Behaviors default to
// success and can be overridden per test.
type fakePlatform struct {
	mu        sync.Mutex
	nextID    int
	created   []Identity
	installed map[Identity][]byte
	settings  map[Identity][]Identity
	config    map[Identity]map[string]Identity
	deleted   []Identity
	statuses  map[Identity]*InstanceStatus

	createErr  error
	statusErr  error
	installErr error
	updateErr  error
	deleteErr  error

	statusEntered chan struct{}
	statusRelease chan struct{}
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		installed: make(map[Identity][]byte),
		settings:  make(map[Identity][]Identity),
		config:    make(map[Identity]map[string]Identity),
		statuses:  make(map[Identity]*InstanceStatus),
	}
}

func (p *fakePlatform) CreateInstance(_ context.Context, _ uint64, controllers []Identity) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.nextID++
	id := Identity(fmt.Sprintf("instance-%d", p.nextID))
	p.created = append(p.created, id)
	p.settings[id] = append([]Identity(nil), controllers...)
	return id, nil
}

func (p *fakePlatform) InstanceStatus(_ context.Context, id Identity) (*InstanceStatus, error) {
	if p.statusEntered != nil {
		p.statusEntered <- struct{}{}
		<-p.statusRelease
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	status, ok := p.statuses[id]
	if !ok {
		return nil, fmt.Errorf("no such instance %s", id)
	}
	return status, nil
}

func (p *fakePlatform) InstallModule(_ context.Context, id Identity, module, args []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installErr != nil {
		return p.installErr
	}
	p.installed[id] = append([]byte(nil), args...)
	_ = module
	return nil
}

func (p *fakePlatform) UpdateSettings(_ context.Context, id Identity, controllers []Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	p.settings[id] = append([]Identity(nil), controllers...)
	return nil
}

func (p *fakePlatform) Configure(_ context.Context, id Identity, key string, value Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config[id] == nil {
		p.config[id] = make(map[string]Identity)
	}
	p.config[id][key] = value
	return nil
}

func (p *fakePlatform) DeleteInstance(_ context.Context, id Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, id)
	return nil
}

type fakeLedger struct {
	mu     sync.Mutex
	debits []string
	err    error
}

func (l *fakeLedger) Debit(_ context.Context, ledger Identity, _ []byte, from, to Identity, amount *big.Int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	l.debits = append(l.debits, fmt.Sprintf("%s:%s->%s:%s", ledger, from, to, amount))
	return fmt.Sprintf("tx-%d", len(l.debits)), nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []TokenRecord
	err     error
}

func (s *fakeSink) TokenIssued(_ context.Context, record TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func readyTool(t *testing.T) *Tool {
	t.Helper()
	tool := NewTool("tool-self")
	if err := tool.Initialize("owner"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := tool.SetModule("owner", SlotPrimary, []byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("set module: %v", err)
	}
	return tool
}

func mintArgs() MintArgs {
	return MintArgs{
		Name:        "Example",
		Symbol:      "EXM",
		Decimals:    8,
		TotalSupply: big.NewInt(1_000_000),
		TransferFee: Fee{Minimum: big.NewInt(10), Rate: big.NewInt(50_000)},
	}
}

func TestMintRequiresInitialization(t *testing.T) {
	tool := NewTool("tool-self")
	orch := NewOrchestrator(tool, newFakePlatform(), nil, nil, nil)
	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("expected ErrUninitialized, got %v", err)
	}
}

func TestMintRejectsAnonymousIssuer(t *testing.T) {
	orch := NewOrchestrator(readyTool(t), newFakePlatform(), nil, nil, nil)
	if _, err := orch.Mint(context.Background(), Anonymous, mintArgs()); !errors.Is(err, ErrInvalidIssuer) {
		t.Fatalf("expected ErrInvalidIssuer, got %v", err)
	}
}

func TestMintRequiresPrimaryModule(t *testing.T) {
	tool := NewTool("tool-self")
	if err := tool.Initialize("owner"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	orch := NewOrchestrator(tool, newFakePlatform(), nil, nil, nil)
	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("expected ErrInvalidModule, got %v", err)
	}
	if tool.TokenCount() != 0 {
		t.Fatalf("failed mint must not touch the catalog")
	}
}

func TestMintCreateFlow(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	sink := &fakeSink{}
	before := time.Now().UnixNano()
	orch := NewOrchestrator(tool, platform, nil, sink, nil)

	tokenID, err := orch.Mint(context.Background(), "alice", mintArgs())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if tokenID != "instance-1" {
		t.Fatalf("unexpected token id %s", tokenID)
	}

	record, err := tool.GetToken(tokenID)
	if err != nil {
		t.Fatalf("catalog lookup: %v", err)
	}
	if record.Issuer != "alice" || record.Symbol != "EXM" || record.Decimals != 8 {
		t.Fatalf("record fields: %+v", record)
	}
	if record.TotalSupply.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("total supply: %s", record.TotalSupply)
	}
	if record.Timestamp < uint64(before) {
		t.Fatalf("timestamp not assigned: %d", record.Timestamp)
	}

	// Install args must carry the caller as issuer.
	var installed InstallArgs
	if err := json.Unmarshal(platform.installed[tokenID], &installed); err != nil {
		t.Fatalf("decode install args: %v", err)
	}
	if installed.Issuer != "alice" || installed.Name != "Example" {
		t.Fatalf("install args: %+v", installed)
	}

	// Controller tightening removes the tool's own identity.
	for _, c := range platform.settings[tokenID] {
		if c == "tool-self" {
			t.Fatalf("self identity not removed from controllers: %v", platform.settings[tokenID])
		}
	}

	if len(sink.records) != 1 || sink.records[0].TokenID != tokenID {
		t.Fatalf("audit sink: %+v", sink.records)
	}
}

func TestMintCreateFailureLeavesNoCatalogEntry(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.createErr = errors.New("capacity exhausted")
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if tool.TokenCount() != 0 {
		t.Fatalf("failed mint must not touch the catalog")
	}
}

func TestMintInstallFailure(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.installErr = errors.New("payload rejected")
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if tool.TokenCount() != 0 {
		t.Fatalf("failed mint must not touch the catalog")
	}
	if len(platform.deleted) != 0 {
		t.Fatalf("orphan cleanup is off by default, deleted %v", platform.deleted)
	}
}

func TestMintInstallFailureCleansOrphanWhenEnabled(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.installErr = errors.New("payload rejected")
	orch := NewOrchestrator(tool, platform, nil, nil, nil).WithPolicy(nil, true)

	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if len(platform.deleted) != 1 || platform.deleted[0] != "instance-1" {
		t.Fatalf("orphan not deleted: %v", platform.deleted)
	}
}

func TestMintAdoptFlow(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.statuses["existing-1"] = &InstanceStatus{
		State:       "running",
		Controllers: []Identity{"alice", "other"},
	}
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	args := mintArgs()
	args.TargetInstance = "existing-1"
	tokenID, err := orch.Mint(context.Background(), "alice", args)
	if err != nil {
		t.Fatalf("adopt mint: %v", err)
	}
	if tokenID != "existing-1" {
		t.Fatalf("unexpected token id %s", tokenID)
	}
	if len(platform.created) != 0 {
		t.Fatalf("adopt flow must not create instances: %v", platform.created)
	}
	if _, err := tool.GetToken("existing-1"); err != nil {
		t.Fatalf("catalog entry missing: %v", err)
	}
}

func TestMintAdoptRejectsNonController(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.statuses["existing-1"] = &InstanceStatus{Controllers: []Identity{"other"}}
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	args := mintArgs()
	args.TargetInstance = "existing-1"
	if _, err := orch.Mint(context.Background(), "alice", args); !errors.Is(err, ErrCallerNotController) {
		t.Fatalf("expected ErrCallerNotController, got %v", err)
	}
}

func TestMintAdoptRejectsInstalledInstance(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.statuses["existing-1"] = &InstanceStatus{
		Controllers: []Identity{"alice"},
		ModuleHash:  []byte{0x01},
	}
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	args := mintArgs()
	args.TargetInstance = "existing-1"
	if _, err := orch.Mint(context.Background(), "alice", args); !errors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("expected ErrAlreadyInstalled, got %v", err)
	}
}

func TestMintRejectsConcurrentAdoptOfSameInstance(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.statuses["existing-1"] = &InstanceStatus{Controllers: []Identity{"alice"}}
	platform.statusEntered = make(chan struct{}, 1)
	platform.statusRelease = make(chan struct{})
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	args := mintArgs()
	args.TargetInstance = "existing-1"

	firstDone := make(chan error, 1)
	go func() {
		_, err := orch.Mint(context.Background(), "alice", args)
		firstDone <- err
	}()
	<-platform.statusEntered // first request is suspended on the status call

	if _, err := orch.Mint(context.Background(), "alice", args); !errors.Is(err, ErrMintInProgress) {
		t.Fatalf("expected ErrMintInProgress for overlapping request, got %v", err)
	}

	platform.statusEntered = nil
	close(platform.statusRelease)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request: %v", err)
	}
	if tool.TokenCount() != 1 {
		t.Fatalf("exactly one issuance must land, got %d", tool.TokenCount())
	}
}

func TestMintOverlappingAdoptIsNotCharged(t *testing.T) {
	tool := readyTool(t)
	if err := tool.SetIssueFee("owner", "ledger-1", big.NewInt(5_000)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	ledger := &fakeLedger{}
	platform := newFakePlatform()
	platform.statuses["existing-1"] = &InstanceStatus{Controllers: []Identity{"alice"}}
	platform.statusEntered = make(chan struct{}, 1)
	platform.statusRelease = make(chan struct{})
	orch := NewOrchestrator(tool, platform, ledger, nil, nil)

	args := mintArgs()
	args.TargetInstance = "existing-1"

	firstDone := make(chan error, 1)
	go func() {
		_, err := orch.Mint(context.Background(), "alice", args)
		firstDone <- err
	}()
	<-platform.statusEntered // first request holds the slot, suspended mid-flow

	if _, err := orch.Mint(context.Background(), "bob", args); !errors.Is(err, ErrMintInProgress) {
		t.Fatalf("expected ErrMintInProgress for overlapping request, got %v", err)
	}
	// The rejected request must be turned away before the fee debit.
	ledger.mu.Lock()
	debits := len(ledger.debits)
	ledger.mu.Unlock()
	if debits != 1 {
		t.Fatalf("rejected request must not be charged, got %d debits: %v", debits, ledger.debits)
	}

	platform.statusEntered = nil
	close(platform.statusRelease)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request: %v", err)
	}
	if len(ledger.debits) != 1 {
		t.Fatalf("expected exactly one debit, got %v", ledger.debits)
	}
}

func TestMintChargesIssueFee(t *testing.T) {
	tool := readyTool(t)
	if err := tool.SetIssueFee("owner", "ledger-1", big.NewInt(5_000)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	ledger := &fakeLedger{}
	orch := NewOrchestrator(tool, newFakePlatform(), ledger, nil, nil)

	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(ledger.debits) != 1 {
		t.Fatalf("expected one debit, got %v", ledger.debits)
	}
	if ledger.debits[0] != "ledger-1:alice->tool-self:5000" {
		t.Fatalf("unexpected debit %s", ledger.debits[0])
	}
}

func TestMintFeeFailureIsFatal(t *testing.T) {
	tool := readyTool(t)
	if err := tool.SetIssueFee("owner", "ledger-1", big.NewInt(5_000)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	ledger := &fakeLedger{err: errors.New("insufficient balance")}
	platform := newFakePlatform()
	orch := NewOrchestrator(tool, platform, ledger, nil, nil)

	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); !errors.Is(err, ErrFeeChargeFailed) {
		t.Fatalf("expected ErrFeeChargeFailed, got %v", err)
	}
	if len(platform.created) != 0 {
		t.Fatalf("fee failure must stop before instance creation: %v", platform.created)
	}
	if tool.TokenCount() != 0 {
		t.Fatalf("failed mint must not touch the catalog")
	}
}

func TestMintSkipsFeeWhenDisabled(t *testing.T) {
	tool := readyTool(t)
	ledger := &fakeLedger{err: errors.New("must not be called")}
	orch := NewOrchestrator(tool, newFakePlatform(), ledger, nil, nil)

	if _, err := orch.Mint(context.Background(), "alice", mintArgs()); err != nil {
		t.Fatalf("mint without fee config: %v", err)
	}
	if len(ledger.debits) != 0 {
		t.Fatalf("ledger must stay untouched: %v", ledger.debits)
	}
}

func TestMintTighteningFailureIsNonFatal(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	platform.updateErr = errors.New("settings locked")
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	tokenID, err := orch.Mint(context.Background(), "alice", mintArgs())
	if err != nil {
		t.Fatalf("mint must succeed despite tightening failure: %v", err)
	}
	if _, err := tool.GetToken(tokenID); err != nil {
		t.Fatalf("catalog entry missing: %v", err)
	}
}

func TestMintAuditFailureIsNonFatal(t *testing.T) {
	tool := readyTool(t)
	sink := &fakeSink{err: errors.New("sink down")}
	orch := NewOrchestrator(tool, newFakePlatform(), nil, sink, nil)

	tokenID, err := orch.Mint(context.Background(), "alice", mintArgs())
	if err != nil {
		t.Fatalf("mint must succeed despite audit failure: %v", err)
	}
	if _, err := tool.GetToken(tokenID); err != nil {
		t.Fatalf("catalog entry missing: %v", err)
	}
}

func TestMintProvisionsCompanion(t *testing.T) {
	tool := readyTool(t)
	if err := tool.SetModule("owner", SlotAuxiliary, []byte{0xAA}); err != nil {
		t.Fatalf("set auxiliary module: %v", err)
	}
	platform := newFakePlatform()
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	tokenID, err := orch.Mint(context.Background(), "alice", mintArgs())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(platform.created) != 2 {
		t.Fatalf("companion instance not created: %v", platform.created)
	}
	companionID := platform.created[1]
	if got := platform.config[tokenID]["archive_instance"]; got != companionID {
		t.Fatalf("companion not linked: %q", got)
	}
	var companionArgs map[string]Identity
	if err := json.Unmarshal(platform.installed[companionID], &companionArgs); err != nil {
		t.Fatalf("decode companion args: %v", err)
	}
	if companionArgs["token_id"] != tokenID {
		t.Fatalf("companion args: %v", companionArgs)
	}
}

func TestMintCompanionFailureIsNonFatal(t *testing.T) {
	tool := readyTool(t)
	if err := tool.SetModule("owner", SlotAuxiliary, []byte{0xAA}); err != nil {
		t.Fatalf("set auxiliary module: %v", err)
	}
	platform := newFakePlatform()
	orch := NewOrchestrator(tool, platform, nil, nil, nil)

	// Adopt flow for the token itself; the only create call would be the
	// companion's, and that one fails.
	platform.statuses["existing-1"] = &InstanceStatus{Controllers: []Identity{"alice"}}
	platform.createErr = errors.New("capacity exhausted")

	args := mintArgs()
	args.TargetInstance = "existing-1"
	if _, err := orch.Mint(context.Background(), "alice", args); err != nil {
		t.Fatalf("mint must succeed despite companion failure: %v", err)
	}
	// Companion is only provisioned in the create flow, so nothing was
	// attempted here and the issuance still succeeded with createErr set.
	if _, err := tool.GetToken("existing-1"); err != nil {
		t.Fatalf("catalog entry missing: %v", err)
	}
}

func TestMintRetainsConfiguredControllers(t *testing.T) {
	tool := readyTool(t)
	platform := newFakePlatform()
	orch := NewOrchestrator(tool, platform, nil, nil, nil).WithPolicy([]Identity{"ops-team"}, false)

	tokenID, err := orch.Mint(context.Background(), "alice", mintArgs())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	found := false
	for _, c := range platform.settings[tokenID] {
		if c == "ops-team" {
			found = true
		}
	}
	if !found {
		t.Fatalf("retained controller missing: %v", platform.settings[tokenID])
	}
}

func TestMintFixedClock(t *testing.T) {
	tool := readyTool(t)
	at := time.Unix(1_700_000_000, 42)
	orch := NewOrchestrator(tool, newFakePlatform(), nil, nil, nil).
		WithClock(func() time.Time { return at })

	tokenID, err := orch.Mint(context.Background(), "alice", mintArgs())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	record, _ := tool.GetToken(tokenID)
	if record.Timestamp != uint64(at.UnixNano()) {
		t.Fatalf("timestamp: got %d, want %d", record.Timestamp, at.UnixNano())
	}
}
