// ABOUTME: HTTP API handlers for agent control and subscription management
// ABOUTME: Relays runtime calls, guards agent starts, and reports subscription status

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/agentgate/internal/agentruntime"
	"github.com/2389/agentgate/internal/assets"
	"github.com/2389/agentgate/internal/auth"
	"github.com/2389/agentgate/internal/dedupe"
	"github.com/2389/agentgate/internal/store"
	"github.com/2389/agentgate/internal/subscription"
)

// maxBodyBytes bounds request bodies; characters are the largest payload.
const maxBodyBytes = 1 << 20

// msgSubscriptionOver is the user-facing message for an expired subscription.
const msgSubscriptionOver = "Subscription is over"

// msgNotAgentOwner rejects a stop from anyone but the identity that started the agent.
const msgNotAgentOwner = "agent is owned by another identity"

// IdempotencyKeyHeader makes POST /subscribe safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// StopAgentRequest is the JSON body for POST /agents/stop.
type StopAgentRequest struct {
	AgentID string `json:"agent_id"`
}

// StartAgentRequest is the JSON body for POST /agents/start.
type StartAgentRequest struct {
	AgentID   string          `json:"agent_id"`
	Character json.RawMessage `json:"character"`
}

// SubscribeRequest is the JSON body for POST /subscribe.
// Months is accepted as an alias of Periods.
type SubscribeRequest struct {
	Months  *int `json:"months,omitempty"`
	Periods *int `json:"periods,omitempty"`
}

// CostResponse is one entry of the costs list.
type CostResponse struct {
	Currency string `json:"currency"`
	Used     int64  `json:"used"`
}

// SubscribeResponse is the JSON response for POST /subscribe.
type SubscribeResponse struct {
	Status string         `json:"status"`
	End    int64          `json:"end"`
	Costs  []CostResponse `json:"costs"`
}

// SubscriptionResponse is the JSON response for an active GET /subscription.
type SubscriptionResponse struct {
	Status           string `json:"status"`
	Identity         string `json:"identity"`
	End              int64  `json:"end"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// ExtensionResponse is one purchase in GET /subscription/history.
type ExtensionResponse struct {
	ID          string `json:"id"`
	Periods     int    `json:"periods"`
	Cost        int64  `json:"cost"`
	Currency    string `json:"currency"`
	PreviousEnd int64  `json:"previous_end"`
	End         int64  `json:"end"`
	CreatedAt   string `json:"created_at"`
}

// HistoryResponse is the JSON response for GET /subscription/history.
type HistoryResponse struct {
	Identity   string              `json:"identity"`
	Extensions []ExtensionResponse `json:"extensions"`
}

// SweepResponse is one entry of GET /reconcile/sweeps.
type SweepResponse struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Listed     int    `json:"listed"`
	Active     int    `json:"active"`
	Stopped    int    `json:"stopped"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// SweepsResponse is the JSON response for GET /reconcile/sweeps.
type SweepsResponse struct {
	State    string          `json:"state"`
	Interval string          `json:"interval"`
	Sweeps   []SweepResponse `json:"sweeps"`
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	requireIdentity := auth.RequireIdentity(g.resolver, g.sendJSONError)

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.Handle("/health", allowMethod(http.MethodGet, http.HandlerFunc(g.handleHealth)))
	mux.Handle("/health/ready", allowMethod(http.MethodGet, http.HandlerFunc(g.handleReady)))
	mux.Handle("/manifest", allowMethod(http.MethodGet, http.HandlerFunc(g.handleManifest)))

	mux.Handle("/agents", allowMethod(http.MethodGet, http.HandlerFunc(g.handleListAgents)))
	mux.Handle("/agents/example", allowMethod(http.MethodGet, http.HandlerFunc(g.handleExampleAgent)))
	mux.Handle("/agents/stop", allowMethod(http.MethodPost, http.HandlerFunc(g.handleStopAgent)))
	mux.Handle("/agents/start", allowMethod(http.MethodPost, requireIdentity(http.HandlerFunc(g.handleStartAgent))))

	mux.Handle("/subscribe", allowMethod(http.MethodPost, requireIdentity(http.HandlerFunc(g.handleSubscribe))))
	mux.Handle("/subscription", allowMethod(http.MethodGet, requireIdentity(http.HandlerFunc(g.handleSubscription))))
	mux.Handle("/subscription/history", allowMethod(http.MethodGet, requireIdentity(http.HandlerFunc(g.handleSubscriptionHistory))))

	mux.Handle("/reconcile/sweeps", allowMethod(http.MethodGet, http.HandlerFunc(g.handleListSweeps)))

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	mux.Handle("/", allowMethod(http.MethodGet, http.HandlerFunc(g.handleIndex)))

	return g.withCORS(mux)
}

// withCORS adds CORS headers to every response and answers preflight requests.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	origin := g.config.Server.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	allowHeaders := strings.Join([]string{"Content-Type", "Authorization", IdempotencyKeyHeader, g.resolver.Header()}, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		if origin != "*" {
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowMethod rejects requests with any other method before they reach next.
func allowMethod(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"status":  "error",
				"message": "method not allowed",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Everything is fine!"})
}

// handleReady returns 200 OK if the agent runtime answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.runtime.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "agent runtime unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleIndex serves the rendered index page at / and 404s everything else.
func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	page, err := assets.IndexHTML()
	if err != nil {
		g.logger.Error("failed to render index", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// handleListAgents handles GET /agents by relaying the runtime listing.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.runtime.ListAgents(r.Context())
	if err != nil {
		g.sendRuntimeError(w, "list agents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// handleExampleAgent returns the embedded example character.
func (g *Gateway) handleExampleAgent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(assets.ExampleCharacter())
}

// handleStopAgent handles POST /agents/stop. Agents with a recorded owner
// can only be stopped by that identity; unowned agents stop for anyone.
func (g *Gateway) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	var req StopAgentRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	identity := "anonymous"
	if id, err := g.resolver.Resolve(r); err == nil {
		identity = id.ID
	}

	// Agents started through this gateway may only be stopped by their owner.
	owner, err := g.store.GetAgentOwner(r.Context(), req.AgentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		g.logger.Error("failed to look up agent owner", "agent_id", req.AgentID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to look up agent owner")
		return
	case owner.Identity != identity:
		g.logger.Warn("stop refused for non-owner", "agent_id", req.AgentID, "identity", identity)
		g.sendJSONError(w, http.StatusForbidden, msgNotAgentOwner)
		return
	}

	reply, err := g.runtime.StopAgent(r.Context(), req.AgentID)
	if err != nil {
		g.sendRuntimeError(w, "stop agent", err)
		return
	}

	g.audit(r.Context(), identity, store.AuditStopAgent, req.AgentID, nil)

	writeRaw(w, http.StatusOK, reply.Raw)
}

// handleStartAgent handles POST /agents/start. The caller must hold an
// active subscription; the runtime is not contacted otherwise.
func (g *Gateway) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	var req StartAgentRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if isEmptyJSON(req.Character) {
		g.sendJSONError(w, http.StatusBadRequest, "character is required")
		return
	}

	identity := auth.FromContext(r.Context()).ID

	var reply *agentruntime.Reply
	err := g.subscriptions.Guard(r.Context(), identity, func(ctx context.Context) error {
		var err error
		reply, err = g.runtime.SetAgent(ctx, req.AgentID, req.Character)
		return err
	})
	switch {
	case errors.Is(err, subscription.ErrSubscriptionOver):
		g.sendJSONError(w, http.StatusPaymentRequired, msgSubscriptionOver)
		return
	case err != nil:
		g.sendRuntimeError(w, "start agent", err)
		return
	}

	if err := g.store.SetAgentOwner(r.Context(), req.AgentID, identity); err != nil {
		g.logger.Error("failed to record agent owner", "agent_id", req.AgentID, "identity", identity, "error", err)
	}
	g.audit(r.Context(), identity, store.AuditStartAgent, req.AgentID, nil)

	writeRaw(w, http.StatusOK, reply.Raw)
}

// handleSubscribe handles POST /subscribe. An empty body buys one period.
// With an Idempotency-Key header, a retry replays the first outcome.
func (g *Gateway) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity := auth.FromContext(r.Context()).ID

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		res := g.subscribe(r.Context(), identity, req)
		writeRaw(w, res.Status, res.Body)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		g.sendJSONError(w, http.StatusBadRequest, "idempotency key too long")
		return
	}

	cacheKey := identity + "\x00" + key
	prev, state := g.idempotency.Reserve(cacheKey)
	switch state {
	case dedupe.Done:
		w.Header().Set("Idempotent-Replayed", "true")
		writeRaw(w, prev.Status, prev.Body)
		return
	case dedupe.Pending:
		g.sendJSONError(w, http.StatusConflict, "a request with this idempotency key is in progress")
		return
	}

	res := g.subscribe(r.Context(), identity, req)
	if res.Status >= http.StatusInternalServerError {
		g.idempotency.Release(cacheKey)
	} else {
		g.idempotency.Complete(cacheKey, res)
	}
	writeRaw(w, res.Status, res.Body)
}

// storedResponse is an encoded response kept for idempotent replay.
type storedResponse struct {
	Status int
	Body   json.RawMessage
}

func (g *Gateway) subscribe(ctx context.Context, identity string, req SubscribeRequest) storedResponse {
	periods := 1
	switch {
	case req.Periods != nil:
		periods = *req.Periods
	case req.Months != nil:
		periods = *req.Months
	}

	ext, err := g.subscriptions.Extend(ctx, identity, periods)
	switch {
	case errors.Is(err, subscription.ErrInvalidPeriods),
		errors.Is(err, subscription.ErrMissingIdentity),
		errors.Is(err, subscription.ErrExpiryOverflow):
		return encodeResponse(http.StatusBadRequest, errorBody(err.Error()))
	case err != nil:
		g.logger.Error("failed to extend subscription", "identity", identity, "error", err)
		return encodeResponse(http.StatusInternalServerError, errorBody("internal server error"))
	}

	return encodeResponse(http.StatusOK, SubscribeResponse{
		Status: "updated",
		End:    ext.Expiry.Unix(),
		Costs: []CostResponse{{
			Currency: ext.Cost.Currency,
			Used:     ext.Cost.Used,
		}},
	})
}

func encodeResponse(status int, v any) storedResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return storedResponse{Status: http.StatusInternalServerError, Body: json.RawMessage(`{"status":"error","message":"internal server error"}`)}
	}
	return storedResponse{Status: status, Body: body}
}

// handleSubscription handles GET /subscription. An expired or missing
// subscription is a normal 200 response with an error status.
func (g *Gateway) handleSubscription(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context()).ID

	st, err := g.subscriptions.Status(r.Context(), identity)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !st.Active {
		g.sendJSONError(w, http.StatusOK, msgSubscriptionOver)
		return
	}

	writeJSON(w, http.StatusOK, SubscriptionResponse{
		Status:           "ok",
		Identity:         st.Identity,
		End:              st.Expiry.Unix(),
		RemainingSeconds: int64(st.Remaining / time.Second),
	})
}

// handleSubscriptionHistory handles GET /subscription/history?limit=N.
func (g *Gateway) handleSubscriptionHistory(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context()).ID

	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := g.store.ListExtensions(r.Context(), identity, limit)
	if err != nil {
		g.logger.Error("failed to list extensions", "identity", identity, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := HistoryResponse{
		Identity:   identity,
		Extensions: make([]ExtensionResponse, 0, len(records)),
	}
	for _, rec := range records {
		resp.Extensions = append(resp.Extensions, ExtensionResponse{
			ID:          rec.ID,
			Periods:     rec.Periods,
			Cost:        rec.Cost,
			Currency:    rec.Currency,
			PreviousEnd: rec.PreviousExpiry.Unix(),
			End:         rec.NewExpiry.Unix(),
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListSweeps handles GET /reconcile/sweeps?limit=N.
func (g *Gateway) handleListSweeps(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := g.store.ListSweeps(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list sweeps", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := SweepsResponse{
		State:    g.loop.State().String(),
		Interval: g.loop.Interval().String(),
		Sweeps:   make([]SweepResponse, 0, len(records)),
	}
	for _, rec := range records {
		resp.Sweeps = append(resp.Sweeps, SweepResponse{
			ID:         rec.ID,
			StartedAt:  rec.StartedAt.Format(time.RFC3339),
			FinishedAt: rec.FinishedAt.Format(time.RFC3339),
			Listed:     rec.Listed,
			Active:     rec.Active,
			Stopped:    rec.Stopped,
			Failed:     rec.Failed,
			Error:      rec.Error,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// audit appends an audit entry, logging instead of failing the request.
func (g *Gateway) audit(ctx context.Context, identity string, action store.AuditAction, agentID string, detail map[string]any) {
	entry := &store.AuditEntry{
		Identity:   identity,
		Action:     action,
		TargetType: "agent",
		TargetID:   agentID,
		Detail:     detail,
	}
	if err := g.store.AppendAuditLog(ctx, entry); err != nil {
		g.logger.Warn("failed to append audit log", "action", action, "agent_id", agentID, "error", err)
	}
}

// sendRuntimeError maps a runtime client failure to 502 without leaking details.
func (g *Gateway) sendRuntimeError(w http.ResponseWriter, op string, err error) {
	var statusErr *agentruntime.StatusError
	switch {
	case errors.As(err, &statusErr):
		g.logger.Warn("runtime rejected request", "op", op, "status", statusErr.Code, "body", statusErr.Body)
		g.sendJSONError(w, http.StatusBadGateway, "agent runtime returned an error")
	case errors.Is(err, agentruntime.ErrInvalidResponse):
		g.logger.Warn("runtime sent invalid response", "op", op, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "agent runtime returned an invalid response")
	default:
		g.logger.Warn("runtime unavailable", "op", op, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "agent runtime unavailable")
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody(message))
}

func errorBody(message string) map[string]string {
	return map[string]string{"status": "error", "message": message}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw relays an already-encoded JSON document.
func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// decodeBody decodes a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(data) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// isEmptyJSON reports whether raw is missing, null, or an empty object or string.
func isEmptyJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "{}", `""`:
		return true
	}
	return false
}

// parseLimit reads the optional ?limit= query parameter.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}
