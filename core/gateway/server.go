// Package gateway exposes the issuance service over HTTP: owner
// administration, token issuance, catalog reads, and a websocket event
// stream of issued tokens.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mintforge/mintd/core/audit"
	"github.com/mintforge/mintd/core/infra/logging"
	"github.com/mintforge/mintd/core/infra/metrics"
	"github.com/mintforge/mintd/core/mint"
)

const (
	// maxModuleBytes caps one uploaded module binary.
	maxModuleBytes = 16 << 20
	maxBodyBytes   = 1 << 20
)

// Server is the HTTP surface over the tool and orchestrator.
type Server struct {
	tool    *mint.Tool
	orch    *mint.Orchestrator
	auth    AuthProvider
	metrics metrics.GatewayMetrics
	graphql *audit.GraphQL
	started time.Time

	clients   map[*websocket.Conn]chan mint.TokenRecord
	clientsMu sync.RWMutex
	eventsCh  chan mint.TokenRecord
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{wsAPIKeyProtocol},
}

// New constructs a server. graphql may be nil; the mutation passthrough
// then reports the index as unavailable.
func New(tool *mint.Tool, orch *mint.Orchestrator, auth AuthProvider, m metrics.GatewayMetrics, graphql *audit.GraphQL) *Server {
	if m == nil {
		m = metrics.NoopGateway{}
	}
	s := &Server{
		tool:     tool,
		orch:     orch,
		auth:     auth,
		metrics:  m,
		graphql:  graphql,
		started:  time.Now(),
		clients:  make(map[*websocket.Conn]chan mint.TokenRecord),
		eventsCh: make(chan mint.TokenRecord, 256),
	}
	go s.broadcast()
	return s
}

// SetOrchestrator wires the orchestrator after construction. The server
// is registered as an audit sink on the orchestrator, so the two are
// built in sequence.
func (s *Server) SetOrchestrator(orch *mint.Orchestrator) {
	s.orch = orch
}

// TokenIssued implements the audit sink contract: every issued token is
// fanned out to connected websocket clients. Never blocks the issuance.
func (s *Server) TokenIssued(_ context.Context, record mint.TokenRecord) error {
	select {
	case s.eventsCh <- record:
	default:
	}
	return nil
}

// Routes registers all HTTP handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /v1/initialize", s.instrumented("/v1/initialize", s.handleInitialize))
	mux.HandleFunc("GET /v1/owner", s.instrumented("/v1/owner", s.handleGetOwner))
	mux.HandleFunc("PUT /v1/owner", s.instrumented("/v1/owner", s.handleSetOwner))
	mux.HandleFunc("PUT /v1/fee", s.instrumented("/v1/fee", s.handleSetFee))
	mux.HandleFunc("PUT /v1/budget", s.instrumented("/v1/budget", s.handleSetBudget))
	mux.HandleFunc("PUT /v1/modules/{slot}", s.instrumented("/v1/modules/{slot}", s.handleSetModule))

	mux.HandleFunc("POST /v1/tokens", s.instrumented("/v1/tokens", s.handleMint))
	mux.HandleFunc("GET /v1/tokens", s.instrumented("/v1/tokens", s.handleListTokens))
	mux.HandleFunc("GET /v1/tokens/{id}", s.instrumented("/v1/tokens/{id}", s.handleGetToken))
	mux.HandleFunc("GET /v1/status", s.instrumented("/v1/status", s.handleStatus))

	mux.HandleFunc("POST /v1/graphql/mutation", s.instrumented("/v1/graphql/mutation", s.handleGraphQLMutation))
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return mux
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	}
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (mint.Identity, bool) {
	if s.auth == nil {
		return mint.Anonymous, true
	}
	caller, err := s.auth.Authenticate(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, 0, err.Error())
		return "", false
	}
	return caller, true
}

// --- Admin handlers ---

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.tool.Initialize(caller); err != nil {
		writeToolError(w, err)
		return
	}
	logging.Info("gateway", "tool initialized", "owner", caller)
	writeJSON(w, http.StatusOK, map[string]any{"owner": caller})
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":       s.tool.Owner(),
		"initialized": s.tool.Initialized(),
	})
}

func (s *Server) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Owner mint.Identity `json:"owner"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, 0, "invalid json")
		return
	}
	if err := s.tool.SetOwner(caller, req.Owner); err != nil {
		writeToolError(w, err)
		return
	}
	logging.Info("gateway", "owner transferred", "from", caller, "to", req.Owner)
	writeJSON(w, http.StatusOK, map[string]any{"owner": req.Owner})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Ledger mint.Identity `json:"ledger"`
		Amount *big.Int      `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, 0, "invalid json")
		return
	}
	if err := s.tool.SetIssueFee(caller, req.Ledger, req.Amount); err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledger": req.Ledger, "amount": req.Amount})
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Cycles uint64 `json:"cycles"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, 0, "invalid json")
		return
	}
	if err := s.tool.SetCycleBudget(caller, req.Cycles); err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tool.Status())
}

func (s *Server) handleSetModule(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	slot := mint.ModuleSlot(r.PathValue("slot"))
	module, err := io.ReadAll(io.LimitReader(r.Body, maxModuleBytes+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, 0, "read module body")
		return
	}
	if len(module) > maxModuleBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, 0, "module too large")
		return
	}
	if err := s.tool.SetModule(caller, slot, module); err != nil {
		writeToolError(w, err)
		return
	}
	logging.Info("gateway", "module stored", "slot", slot, "bytes", len(module))
	writeJSON(w, http.StatusOK, map[string]any{"slot": slot, "bytes": len(module)})
}

// --- Issuance and catalog handlers ---

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, 0, "read request body")
		return
	}
	if err := validateMintRequest(body); err != nil {
		writeJSONError(w, http.StatusBadRequest, 0, err.Error())
		return
	}
	var args mint.MintArgs
	if err := json.Unmarshal(body, &args); err != nil {
		writeJSONError(w, http.StatusBadRequest, 0, "invalid json")
		return
	}

	requestID := uuid.NewString()
	logging.Info("gateway", "mint request", "request_id", requestID, "caller", caller, "symbol", args.Symbol)

	tokenID, err := s.orch.Mint(r.Context(), caller, args)
	if err != nil {
		logging.Error("gateway", "mint request failed", "request_id", requestID, "error", err)
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token_id": tokenID, "request_id": requestID})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	record, err := s.tool.GetToken(mint.Identity(r.PathValue("id")))
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	start := intQuery(r, "start", 0)
	size := intQuery(r, "size", 50)
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": s.tool.ListTokens(start, size),
		"total":  s.tool.TokenCount(),
		"start":  start,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.tool.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized":  st.Initialized,
		"owner":        st.Owner,
		"fee_ledger":   st.FeeLedger,
		"issue_fee":    st.IssueFee,
		"cycle_budget": st.CycleBudget,
		"token_count":  st.TokenCount,
		"modules":      st.Modules,
		"uptime_sec":   int64(time.Since(s.started).Seconds()),
	})
}

// handleGraphQLMutation forwards a raw mutation to the token index.
// Owner-only escape hatch for index repair.
func (s *Server) handleGraphQLMutation(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.tool.Initialized() || caller != s.tool.Owner() {
		writeToolError(w, mint.ErrOnlyOwner)
		return
	}
	if s.graphql == nil {
		writeJSONError(w, http.StatusServiceUnavailable, 0, "token index not configured")
		return
	}
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := decodeBody(r, &req); err != nil || req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, 0, "query required")
		return
	}
	if err := s.graphql.Mutate(r.Context(), req.Query, req.Variables); err != nil {
		writeJSONError(w, http.StatusBadGateway, 0, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- Event stream ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(w, r); !ok {
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("gateway", "ws connected", "remote", r.RemoteAddr)

	clientCh := make(chan mint.TokenRecord, 100)
	s.clientsMu.Lock()
	s.clients[ws] = clientCh
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ws)
		s.clientsMu.Unlock()
	}()

	// Read pump: the hijacked connection's request context is not
	// cancelled on close, so a failing read is the disconnect signal.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case record, ok := <-clientCh:
			if !ok {
				// Evicted by the broadcaster.
				return
			}
			data, err := json.Marshal(record)
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// broadcast fans issued-token events out to connected clients. Slow
// clients are dropped rather than allowed to stall the stream.
func (s *Server) broadcast() {
	for record := range s.eventsCh {
		var slow []*websocket.Conn
		s.clientsMu.RLock()
		for conn, ch := range s.clients {
			select {
			case ch <- record:
			default:
				slow = append(slow, conn)
			}
		}
		s.clientsMu.RUnlock()

		if len(slow) > 0 {
			s.clientsMu.Lock()
			for _, conn := range slow {
				// Closing the channel tells the handler goroutine to
				// exit; only the broadcaster ever closes it.
				if ch, ok := s.clients[conn]; ok {
					delete(s.clients, conn)
					close(ch)
				}
			}
			s.clientsMu.Unlock()
			for _, conn := range slow {
				if err := conn.Close(); err != nil {
					logging.Error("gateway", "ws client close failed", "error", err)
				}
			}
		}
	}
}

// --- Helpers ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack forwards websocket hijacking support to the underlying writer
// when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code uint32, message string) {
	writeJSON(w, status, map[string]any{"code": code, "message": message})
}

// writeToolError maps a typed tool failure onto an HTTP status while
// keeping the stable numeric code in the body.
func writeToolError(w http.ResponseWriter, err error) {
	var toolErr *mint.Error
	if !errors.As(err, &toolErr) {
		writeJSONError(w, http.StatusInternalServerError, 0, err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(toolErr, mint.ErrNotAllowAnonymous),
		errors.Is(toolErr, mint.ErrOnlyOwner),
		errors.Is(toolErr, mint.ErrCallerNotController),
		errors.Is(toolErr, mint.ErrInvalidIssuer):
		status = http.StatusForbidden
	case errors.Is(toolErr, mint.ErrInvalidModule):
		status = http.StatusBadRequest
	case errors.Is(toolErr, mint.ErrAlreadyInstalled),
		errors.Is(toolErr, mint.ErrAlreadyInitialized),
		errors.Is(toolErr, mint.ErrMintInProgress):
		status = http.StatusConflict
	case errors.Is(toolErr, mint.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(toolErr, mint.ErrUninitialized):
		status = http.StatusServiceUnavailable
	case errors.Is(toolErr, mint.ErrFeeChargeFailed):
		status = http.StatusPaymentRequired
	case errors.Is(toolErr, mint.ErrInstallFailed), errors.Is(toolErr, mint.ErrRemote):
		status = http.StatusBadGateway
	}
	writeJSONError(w, status, toolErr.Code, toolErr.Message)
}
