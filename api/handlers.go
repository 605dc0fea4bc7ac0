/*
handlers.go - HTTP handlers for the stock ledger API

PURPOSE:
  Exposes the ledger engine via REST. Handlers parse and shape-validate
  the request, call the engine, and serialize the result. No arithmetic
  lives here.

ERROR HANDLING:
  Errors map onto HTTP statuses:
  - 400: validation errors (offending field named)
  - 404: unknown (item, location) key
  - 409: business-rule rejections (insufficient available/batch, retired)
  - 503: conflict retries exhausted (transient, caller may retry)
  - 500: storage failures (nothing was written)

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/forgeworks/stock-engine/ledger"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Logger   *zap.Logger
	validate *validator.Validate
}

func NewHandler(engine *ledger.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Receive handles POST /api/stock/receive.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	args, err := receiveArgs(req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, entry, err := h.Engine.Receive(r.Context(), key(req.Item, req.Location), args)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mutationResponse(rec, entry))
}

// Issue handles POST /api/stock/issue.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !h.decode(w, r, &req) {
		return
	}

	refKind := ledger.ReferenceKind(req.ReferenceKind)
	if refKind == "" {
		refKind = ledger.RefIssue
	}
	rec, entry, err := h.Engine.Issue(r.Context(), key(req.Item, req.Location), ledger.IssueArgs{
		Quantity:           decimal.NewFromFloat(req.Quantity),
		Batch:              ledger.BatchID(req.BatchID),
		ReleaseReservation: req.ReleaseReservation,
		Reference:          ledger.Reference{Kind: refKind, ID: req.ReferenceID},
		Actor:              req.Actor,
		Reason:             req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mutationResponse(rec, entry))
}

// Reserve handles POST /api/stock/reserve.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.Reserve(r.Context(), key(req.Item, req.Location), decimal.NewFromFloat(req.Quantity))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// Unreserve handles POST /api/stock/unreserve.
func (h *Handler) Unreserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.Unreserve(r.Context(), key(req.Item, req.Location), decimal.NewFromFloat(req.Quantity))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// Adjust handles POST /api/stock/adjust.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, entry, err := h.Engine.Adjust(r.Context(), key(req.Item, req.Location), ledger.AdjustArgs{
		NewQuantity: decimal.NewFromFloat(req.NewQuantity),
		Reference:   ledger.Reference{Kind: ledger.RefAdjustment, ID: req.ReferenceID},
		Actor:       req.Actor,
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mutationResponse(rec, entry))
}

// ApplyReceipt handles POST /api/receipts. Each line commits on its own;
// a failure on line N leaves lines 1..N-1 applied and reported as such.
func (h *Handler) ApplyReceipt(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}

	receiptID := req.ReferenceID
	if receiptID == "" {
		receiptID = uuid.New().String()
	}

	resp := ReceiptResponse{ReceiptID: receiptID}
	for i, line := range req.Lines {
		args, err := receiveArgs(ReceiveRequest{
			Item: line.Item, Location: line.Location,
			Quantity: line.Quantity, UnitCost: line.UnitCost,
			BatchID: line.BatchID, Expiry: line.Expiry,
			ReferenceKind: string(ledger.RefReceipt), ReferenceID: receiptID,
			Actor: req.Actor, ItemName: line.ItemName,
			Category: line.Category, Unit: line.Unit,
		})
		if err == nil {
			var rec ledger.StockRecord
			var entry *ledger.Entry
			rec, entry, err = h.Engine.Receive(r.Context(), key(line.Item, line.Location), args)
			if err == nil {
				dto := toRecordDTO(rec)
				ed := toEntryDTO(*entry)
				resp.Results = append(resp.Results, ReceiptLineResult{
					Line: i, Applied: true, Record: &dto, Entry: &ed,
				})
				resp.Applied++
				continue
			}
		}
		resp.Results = append(resp.Results, ReceiptLineResult{Line: i, Error: err.Error()})
		resp.Failed++
	}

	status := http.StatusCreated
	if resp.Failed > 0 {
		// Partial application is reportable, not retryable as a whole.
		status = http.StatusMultiStatus
		h.Logger.Warn("receipt partially applied",
			zap.String("receipt_id", receiptID),
			zap.Int("applied", resp.Applied),
			zap.Int("failed", resp.Failed))
	}
	h.writeJSON(w, status, resp)
}

// SetThresholds handles PUT /api/stock/{item}/{location}/thresholds.
func (h *Handler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	var req ThresholdsRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.SetThresholds(r.Context(), urlKey(r),
		decimal.NewFromFloat(req.MinimumQuantity),
		decimal.NewFromFloat(req.ReorderPoint),
		decimal.NewFromFloat(req.MaximumQuantity))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// SetActive handles PUT /api/stock/{item}/{location}/active.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.SetActive(r.Context(), urlKey(r), req.Active)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// =============================================================================
// READS
// =============================================================================

// QueryStock handles GET /api/stock.
func (h *Handler) QueryStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.RecordFilter{
		Item:           ledger.ItemRef(q.Get("item")),
		Location:       ledger.LocationRef(q.Get("location")),
		IncludeRetired: q.Get("include_retired") == "true",
	}

	var recs []ledger.StockRecord
	var err error
	switch {
	case q.Get("critical") == "true":
		recs, err = h.Engine.CriticalStock(r.Context(), filter)
	case q.Get("low") == "true":
		recs, err = h.Engine.LowStock(r.Context(), filter)
	default:
		recs, err = h.Engine.QueryStock(r.Context(), filter)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]StockRecordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordDTO(rec))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetRecord handles GET /api/stock/{item}/{location}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.GetRecord(r.Context(), urlKey(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// QueryHistory handles GET /api/transactions.
func (h *Handler) QueryHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.EntryFilter{
		Item:     ledger.ItemRef(q.Get("item")),
		Location: ledger.LocationRef(q.Get("location")),
		Kind:     ledger.Kind(q.Get("kind")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, &ledger.ValidationError{Field: "from", Message: "must be RFC3339"})
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, &ledger.ValidationError{Field: "to", Message: "must be RFC3339"})
			return
		}
		filter.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, &ledger.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	entries, err := h.Engine.QueryHistory(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Valuation handles GET /api/reports/valuation. The fold stays decimal in
// the ledger; floats appear only at serialization.
func (h *Handler) Valuation(w http.ResponseWriter, r *http.Request) {
	location := ledger.LocationRef(r.URL.Query().Get("location"))

	rows, err := h.Engine.Valuation(r.Context(), location)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]CategoryValuationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, CategoryValuationDTO{
			Category:      row.Category,
			RecordCount:   row.RecordCount,
			TotalQuantity: f(row.TotalQuantity),
			TotalValue:    f(row.TotalValue),
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Audit handles GET /api/audit/{item}/{location}.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Audit(r.Context(), urlKey(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !report.Consistent() {
		h.Logger.Error("stock audit found drift",
			zap.String("item", string(report.Key.Item)),
			zap.String("location", string(report.Key.Location)),
			zap.String("drift", report.Drift.String()),
			zap.Int("chain_violations", len(report.ChainViolations)))
	}
	h.writeJSON(w, http.StatusOK, toAuditDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func key(item, location string) ledger.StockKey {
	return ledger.StockKey{Item: ledger.ItemRef(item), Location: ledger.LocationRef(location)}
}

func urlKey(r *http.Request) ledger.StockKey {
	return key(chi.URLParam(r, "item"), chi.URLParam(r, "location"))
}

func receiveArgs(req ReceiveRequest) (ledger.ReceiveArgs, error) {
	args := ledger.ReceiveArgs{
		Quantity: decimal.NewFromFloat(req.Quantity),
		UnitCost: decimal.NewFromFloat(req.UnitCost),
		Batch:    ledger.BatchID(req.BatchID),
		Actor:    req.Actor,
		Reason:   req.Reason,
		ItemName: req.ItemName,
		Category: req.Category,
		Unit:     req.Unit,
	}
	refKind := ledger.ReferenceKind(req.ReferenceKind)
	if refKind == "" {
		refKind = ledger.RefReceipt
	}
	args.Reference = ledger.Reference{Kind: refKind, ID: req.ReferenceID}

	if req.Expiry != "" {
		t, err := time.Parse(time.RFC3339, req.Expiry)
		if err != nil {
			return args, &ledger.ValidationError{Field: "expiry", Message: "must be RFC3339"}
		}
		args.Expiry = &t
	}
	return args, nil
}

func mutationResponse(rec ledger.StockRecord, entry *ledger.Entry) MutationResponse {
	resp := MutationResponse{Record: toRecordDTO(rec)}
	if entry != nil {
		dto := toEntryDTO(*entry)
		resp.Entry = &dto
	}
	return resp
}

// decode parses and shape-validates the body. Writes the error response
// itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "validation failed on '" + verrs[0].Tag() + "'",
				Field: verrs[0].Field(),
			})
			return false
		}
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Message, Field: ve.Field})
	case ledger.IsNotFound(err):
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case ledger.IsClientError(err):
		h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case ledger.IsRetryable(err):
		h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		h.Logger.Error("internal error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
