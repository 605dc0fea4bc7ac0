/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the REST boundary. These decouple the internal
  domain model from the external contract: collaborator modules (receipt
  creation, shipment processing, adjustment screens, dashboards) speak
  these shapes, never ledger types directly.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *DTO: response types returned to clients
  - *Response: wrappers combining several DTOs

VALIDATION:
  Shape validation (required fields, ranges) lives here as validator
  struct tags, checked in handlers before any store access. Semantic
  validation (availability, batch coverage) stays in the ledger package.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain model underneath
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgeworks/stock-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ReceiveRequest adds inbound stock to one (item, location) key.
type ReceiveRequest struct {
	Item     string  `json:"item" validate:"required"`
	Location string  `json:"location" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost float64 `json:"unit_cost" validate:"gte=0"`

	BatchID string `json:"batch_id,omitempty"`
	Expiry  string `json:"expiry,omitempty"` // RFC3339

	ReferenceKind string `json:"reference_kind,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Reason        string `json:"reason,omitempty"`

	// Master-data echo, stored on the record for display and valuation.
	ItemName string `json:"item_name,omitempty"`
	Category string `json:"category,omitempty"`
	Unit     string `json:"unit,omitempty"`
}

// IssueRequest removes outbound stock.
type IssueRequest struct {
	Item     string  `json:"item" validate:"required"`
	Location string  `json:"location" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`

	BatchID            string `json:"batch_id,omitempty"`
	ReleaseReservation bool   `json:"release_reservation,omitempty"`

	ReferenceKind string `json:"reference_kind,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ReserveRequest holds or releases available quantity.
type ReserveRequest struct {
	Item     string  `json:"item" validate:"required"`
	Location string  `json:"location" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

// AdjustRequest sets the counted quantity after a physical check.
type AdjustRequest struct {
	Item        string  `json:"item" validate:"required"`
	Location    string  `json:"location" validate:"required"`
	NewQuantity float64 `json:"new_quantity" validate:"gte=0"`
	Reason      string  `json:"reason" validate:"required"`

	ReferenceID string `json:"reference_id,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// ReceiptLine is one line of a multi-item receipt.
type ReceiptLine struct {
	Item     string  `json:"item" validate:"required"`
	Location string  `json:"location" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost float64 `json:"unit_cost" validate:"gte=0"`
	BatchID  string  `json:"batch_id,omitempty"`
	Expiry   string  `json:"expiry,omitempty"`
	ItemName string  `json:"item_name,omitempty"`
	Category string  `json:"category,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

// ReceiptRequest applies each line as an independent ledger operation.
// Atomicity is per line, not per receipt: a failed line does not roll
// back the lines before it, and the response reports both.
type ReceiptRequest struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	Actor       string        `json:"actor,omitempty"`
	Lines       []ReceiptLine `json:"lines" validate:"required,min=1,dive"`
}

// ThresholdsRequest updates the projection thresholds on a record.
type ThresholdsRequest struct {
	MinimumQuantity float64 `json:"minimum_quantity" validate:"gte=0"`
	ReorderPoint    float64 `json:"reorder_point" validate:"gte=0"`
	MaximumQuantity float64 `json:"maximum_quantity" validate:"gte=0"`
}

// ActiveRequest retires or reinstates a record.
type ActiveRequest struct {
	Active bool `json:"active"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BatchDTO mirrors one batch sub-ledger line.
type BatchDTO struct {
	ID           string  `json:"id"`
	Quantity     float64 `json:"quantity"`
	ReceivedDate string  `json:"received_date"`
	Expiry       string  `json:"expiry,omitempty"`
}

// StockRecordDTO is the record in API responses. Derived fields
// (available, total value) are computed at serialization time.
type StockRecordDTO struct {
	Item     string `json:"item"`
	Location string `json:"location"`
	ItemName string `json:"item_name,omitempty"`
	Category string `json:"category,omitempty"`
	Unit     string `json:"unit,omitempty"`

	CurrentQuantity   float64 `json:"current_quantity"`
	ReservedQuantity  float64 `json:"reserved_quantity"`
	AvailableQuantity float64 `json:"available_quantity"`
	AverageUnitCost   float64 `json:"average_unit_cost"`
	TotalValue        float64 `json:"total_value"`

	Batches []BatchDTO `json:"batches,omitempty"`

	MinimumQuantity float64 `json:"minimum_quantity"`
	ReorderPoint    float64 `json:"reorder_point"`
	MaximumQuantity float64 `json:"maximum_quantity"`
	LowStock        bool    `json:"low_stock"`
	Critical        bool    `json:"critical"`

	Active            bool   `json:"active"`
	LastTransactionAt string `json:"last_transaction_at,omitempty"`
	Version           int64  `json:"version"`
}

// EntryDTO is a transaction log entry in API responses.
type EntryDTO struct {
	ID                string  `json:"id"`
	SequenceNumber    string  `json:"sequence_number"`
	Item              string  `json:"item"`
	Location          string  `json:"location"`
	Kind              string  `json:"kind"`
	QuantityDelta     float64 `json:"quantity_delta"`
	UnitCost          float64 `json:"unit_cost"`
	TotalValue        float64 `json:"total_value"`
	PreviousQuantity  float64 `json:"previous_quantity"`
	ResultingQuantity float64 `json:"resulting_quantity"`
	ReferenceKind     string  `json:"reference_kind,omitempty"`
	ReferenceID       string  `json:"reference_id,omitempty"`
	BatchID           string  `json:"batch_id,omitempty"`
	Expiry            string  `json:"expiry,omitempty"`
	Actor             string  `json:"actor,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	OccurredAt        string  `json:"occurred_at"`
}

// MutationResponse pairs the updated record with the entry that changed it.
type MutationResponse struct {
	Record StockRecordDTO `json:"record"`
	Entry  *EntryDTO      `json:"entry,omitempty"`
}

// ReceiptLineResult reports one line's outcome. Lines apply independently;
// callers must treat a partial receipt as reportable, not retry the whole
// document (that would double-apply the lines that succeeded).
type ReceiptLineResult struct {
	Line    int             `json:"line"`
	Applied bool            `json:"applied"`
	Error   string          `json:"error,omitempty"`
	Record  *StockRecordDTO `json:"record,omitempty"`
	Entry   *EntryDTO       `json:"entry,omitempty"`
}

// ReceiptResponse summarizes a multi-line receipt application.
type ReceiptResponse struct {
	ReceiptID string              `json:"receipt_id"`
	Applied   int                 `json:"applied"`
	Failed    int                 `json:"failed"`
	Results   []ReceiptLineResult `json:"results"`
}

// CategoryValuationDTO is one row of the valuation summary.
type CategoryValuationDTO struct {
	Category      string  `json:"category"`
	RecordCount   int     `json:"record_count"`
	TotalQuantity float64 `json:"total_quantity"`
	TotalValue    float64 `json:"total_value"`
}

// ChainViolationDTO pinpoints one break in the audit chain.
type ChainViolationDTO struct {
	Sequence string  `json:"sequence"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
}

// AuditReportDTO reports record-vs-log drift for one key.
type AuditReportDTO struct {
	Item             string              `json:"item"`
	Location         string              `json:"location"`
	Consistent       bool                `json:"consistent"`
	RecordQuantity   float64             `json:"record_quantity"`
	ReplayedQuantity float64             `json:"replayed_quantity"`
	Drift            float64             `json:"drift"`
	EntryCount       int                 `json:"entry_count"`
	ChainViolations  []ChainViolationDTO `json:"chain_violations,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func f(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

func toRecordDTO(r ledger.StockRecord) StockRecordDTO {
	dto := StockRecordDTO{
		Item:              string(r.Item),
		Location:          string(r.Location),
		ItemName:          r.ItemName,
		Category:          r.Category,
		Unit:              r.Unit,
		CurrentQuantity:   f(r.CurrentQuantity),
		ReservedQuantity:  f(r.ReservedQuantity),
		AvailableQuantity: f(r.Available()),
		AverageUnitCost:   f(r.AverageUnitCost),
		TotalValue:        f(r.TotalValue()),
		MinimumQuantity:   f(r.MinimumQuantity),
		ReorderPoint:      f(r.ReorderPoint),
		MaximumQuantity:   f(r.MaximumQuantity),
		LowStock:          r.IsLowStock(),
		Critical:          r.IsCritical(),
		Active:            r.Active,
		Version:           r.Version,
	}
	if !r.LastTransactionAt.IsZero() {
		dto.LastTransactionAt = r.LastTransactionAt.UTC().Format(time.RFC3339)
	}
	for _, b := range r.Batches {
		bd := BatchDTO{
			ID:           string(b.ID),
			Quantity:     f(b.Quantity),
			ReceivedDate: b.ReceivedDate.UTC().Format(time.RFC3339),
		}
		if b.Expiry != nil {
			bd.Expiry = b.Expiry.UTC().Format(time.RFC3339)
		}
		dto.Batches = append(dto.Batches, bd)
	}
	return dto
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:                string(e.ID),
		SequenceNumber:    e.SequenceNumber,
		Item:              string(e.Item),
		Location:          string(e.Location),
		Kind:              string(e.Kind),
		QuantityDelta:     f(e.QuantityDelta),
		UnitCost:          f(e.UnitCost),
		TotalValue:        f(e.TotalValue),
		PreviousQuantity:  f(e.PreviousQuantity),
		ResultingQuantity: f(e.ResultingQuantity),
		ReferenceKind:     string(e.Reference.Kind),
		ReferenceID:       e.Reference.ID,
		BatchID:           string(e.Batch),
		Actor:             e.Actor,
		Reason:            e.Reason,
		OccurredAt:        e.OccurredAt.UTC().Format(time.RFC3339),
	}
	if e.Expiry != nil {
		dto.Expiry = e.Expiry.UTC().Format(time.RFC3339)
	}
	return dto
}

func toAuditDTO(r ledger.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		Item:             string(r.Key.Item),
		Location:         string(r.Key.Location),
		Consistent:       r.Consistent(),
		RecordQuantity:   f(r.RecordQuantity),
		ReplayedQuantity: f(r.ReplayedQuantity),
		Drift:            f(r.Drift),
		EntryCount:       r.EntryCount,
	}
	for _, v := range r.ChainViolations {
		dto.ChainViolations = append(dto.ChainViolations, ChainViolationDTO{
			Sequence: v.Sequence,
			Expected: f(v.Expected),
			Actual:   f(v.Actual),
		})
	}
	return dto
}
