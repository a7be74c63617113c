/*
handlers.go - HTTP API handlers for quarter utility dues

PURPOSE:
  Exposes the dues engine, the payment ingestor, the deduction generator
  and the occupant directory via REST. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Dues:
    GET    /api/dues/{employee_id}                     Dues status

  Payments:
    POST   /api/payments/confirmations                 Ingest payroll batch

  Deductions:
    POST   /api/deductions/{billing_month}             Generate batch
    GET    /api/deductions/{billing_month}/export.csv  Export (CSV)
    GET    /api/deductions/{billing_month}/export.xlsx Export (XLSX)
    POST   /api/deductions/{billing_month}/uploaded    Payroll acknowledged

  Occupants:
    GET    /api/occupants                              Directory
    POST   /api/occupants/status-updates               Occupancy feed
    GET    /api/occupants/{allottee_id}/bills/{billing_month}/pdf

  Admin / system:
    POST   /api/admin/seed                             Demo data
    GET    /api/system/health                          DB ping

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed period, bad body
  - 404: Unknown employee, occupant or bill
  - 500: Ledger or directory failure

SECURITY NOTE:
  Caller authentication is out of scope. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/quarter-dues/bills"
	"github.com/warp/quarter-dues/deductions"
	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/metrics"
	"github.com/warp/quarter-dues/occupancy"
	"github.com/warp/quarter-dues/payments"
	"github.com/warp/quarter-dues/seed"
)

const maxBodyBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the persistence the API runs on.
type Backend interface {
	dues.DirectoryWriter
	dues.BillingLedger
	dues.PaymentLedger
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the components built by NewHandler.
type Options struct {
	Charge        deductions.ChargeCalculator
	ChargeLabel   string
	Publisher     deductions.Publisher
	LedgerTimeout time.Duration
	Clock         dues.Clock
	Logger        *log.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Backend   Backend
	Engine    *dues.Engine
	Ingestor  *payments.Ingestor
	Generator *deductions.Generator
	Updater   *occupancy.Updater

	clock  dues.Clock
	logger *log.Logger
}

// NewHandler wires the domain components on top of backend.
func NewHandler(backend Backend, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = dues.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Charge == nil {
		opts.Charge = deductions.FixedCharge{}
	}

	var engineOpts []dues.EngineOption
	if opts.LedgerTimeout > 0 {
		engineOpts = append(engineOpts, dues.WithTimeout(opts.LedgerTimeout))
	}

	return &Handler{
		Backend: backend,
		Engine:  dues.NewEngine(backend, backend, backend, engineOpts...),
		Ingestor: payments.NewIngestor(backend,
			payments.WithClock(opts.Clock),
			payments.WithLogger(opts.Logger),
		),
		Generator: deductions.NewGenerator(backend, backend, opts.Charge,
			deductions.WithPublisher(opts.Publisher),
			deductions.WithClock(opts.Clock),
			deductions.WithLogger(opts.Logger),
			deductions.WithChargeLabel(opts.ChargeLabel),
		),
		Updater: occupancy.NewUpdater(backend, opts.Clock, opts.Logger),
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// =============================================================================
// DUES HANDLERS
// =============================================================================

// GetDuesStatus returns the dues report of an employee.
// GET /api/dues/{employee_id}
func (h *Handler) GetDuesStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ref := strings.TrimSpace(chi.URLParam(r, "employee_id"))
	if ref == "" {
		metrics.ObserveDuesQuery(metrics.ResultInvalid, "", time.Since(start))
		writeError(w, http.StatusBadRequest, "Missing employee_id", nil)
		return
	}

	report, err := h.Engine.Reconcile(r.Context(), dues.ReferenceID(ref))
	if err != nil {
		metrics.ObserveDuesQuery(resultFor(err), "", time.Since(start))
		h.respondError(w, err, "Failed to compute dues status")
		return
	}

	metrics.ObserveDuesQuery(metrics.ResultSuccess, string(report.Status), time.Since(start))
	writeJSON(w, http.StatusOK, toDuesStatusDTO(report))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// IngestConfirmations accepts a payroll confirmation batch.
// POST /api/payments/confirmations
func (h *Handler) IngestConfirmations(w http.ResponseWriter, r *http.Request) {
	var batch payments.Batch
	if err := decodeBody(w, r, &batch); err != nil {
		metrics.ObserveIngest(metrics.ResultInvalid, 0, 0, 0)
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	receipt, err := h.Ingestor.IngestBatch(r.Context(), batch)
	if err != nil {
		metrics.ObserveIngest(resultFor(err), 0, 0, 0)
		h.respondError(w, err, "Failed to ingest confirmations")
		return
	}

	metrics.ObserveIngest(metrics.ResultSuccess, receipt.Written, receipt.Duplicates, len(receipt.Skipped))
	writeJSON(w, http.StatusOK, receipt)
}

// =============================================================================
// DEDUCTION HANDLERS
// =============================================================================

// GenerateDeductions bills the period and returns the export batch.
// POST /api/deductions/{billing_month}
func (h *Handler) GenerateDeductions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	period, ok := periodParam(w, r)
	if !ok {
		return
	}

	batch, err := h.Generator.GenerateForPeriod(r.Context(), period)
	if err != nil {
		metrics.ObserveDeductionRun("api", resultFor(err), 0, time.Since(start))
		h.respondError(w, err, "Failed to generate deductions")
		return
	}

	metrics.ObserveDeductionRun("api", metrics.ResultSuccess, len(batch.Lines), time.Since(start))
	writeJSON(w, http.StatusOK, toDeductionBatchDTO(batch))
}

// ExportDeductionsCSV streams the period's bills as CSV.
// GET /api/deductions/{billing_month}/export.csv
func (h *Handler) ExportDeductionsCSV(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.exportBatch(w, r, "csv")
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := deductions.WriteCSV(&buf, batch); err != nil {
		metrics.ObserveExport("csv", metrics.ResultError)
		writeError(w, http.StatusInternalServerError, "Failed to render CSV", err)
		return
	}

	metrics.ObserveExport("csv", metrics.ResultSuccess)
	writeAttachment(w, "text/csv", deductions.FileName(batch.Period, "csv"), buf.Bytes())
}

// ExportDeductionsXLSX returns the period's bills as a workbook.
// GET /api/deductions/{billing_month}/export.xlsx
func (h *Handler) ExportDeductionsXLSX(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.exportBatch(w, r, "xlsx")
	if !ok {
		return
	}

	data, err := deductions.RenderXLSX(batch)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError)
		writeError(w, http.StatusInternalServerError, "Failed to render XLSX", err)
		return
	}

	metrics.ObserveExport("xlsx", metrics.ResultSuccess)
	writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		deductions.FileName(batch.Period, "xlsx"), data)
}

func (h *Handler) exportBatch(w http.ResponseWriter, r *http.Request, format string) (*deductions.ExportBatch, bool) {
	period, ok := periodParam(w, r)
	if !ok {
		metrics.ObserveExport(format, metrics.ResultInvalid)
		return nil, false
	}

	batch, err := h.Generator.ExportForPeriod(r.Context(), period)
	if err != nil {
		metrics.ObserveExport(format, resultFor(err))
		h.respondError(w, err, "Failed to export deductions")
		return nil, false
	}
	if batch.IsEmpty() {
		metrics.ObserveExport(format, metrics.ResultNotFound)
		writeError(w, http.StatusNotFound, "No bills for "+period.String(), nil)
		return nil, false
	}
	return batch, true
}

// MarkUploaded records that payroll accepted the period's file.
// POST /api/deductions/{billing_month}/uploaded
func (h *Handler) MarkUploaded(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}

	n, err := h.Generator.MarkUploaded(r.Context(), period)
	if err != nil {
		h.respondError(w, err, "Failed to mark bills uploaded")
		return
	}

	writeJSON(w, http.StatusOK, MarkUploadedResponse{BillingMonth: period.String(), Uploaded: n})
}

// =============================================================================
// OCCUPANT HANDLERS
// =============================================================================

// ListOccupants returns the directory.
// GET /api/occupants
func (h *Handler) ListOccupants(w http.ResponseWriter, r *http.Request) {
	occupants, err := h.Backend.ListOccupants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list occupants", err)
		return
	}

	dtos := make([]OccupantDTO, len(occupants))
	for i, o := range occupants {
		dtos[i] = toOccupantDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyStatusUpdates applies the estate office feed atomically.
// POST /api/occupants/status-updates
func (h *Handler) ApplyStatusUpdates(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdatesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	n, err := h.Updater.Apply(r.Context(), req.Updates)
	if err != nil {
		h.respondError(w, err, "Failed to apply status updates")
		return
	}

	writeJSON(w, http.StatusOK, StatusUpdatesResponse{Updated: n})
}

// GetBillPDF renders one bill.
// GET /api/occupants/{allottee_id}/bills/{billing_month}/pdf
func (h *Handler) GetBillPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	id := dues.OccupantID(chi.URLParam(r, "allottee_id"))

	occupant, err := h.Backend.GetOccupant(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get occupant", err)
		return
	}
	if occupant == nil {
		writeError(w, http.StatusNotFound, "Occupant not found", nil)
		return
	}
	bill, err := h.Backend.Bill(ctx, id, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get bill", err)
		return
	}
	if bill == nil {
		writeError(w, http.StatusNotFound, "Bill not found", nil)
		return
	}

	data, err := bills.RenderPDF(*occupant, *bill, h.Generator.Reason(period))
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError)
		writeError(w, http.StatusInternalServerError, "Failed to render bill", err)
		return
	}

	metrics.ObserveExport("pdf", metrics.ResultSuccess)
	writeAttachment(w, "application/pdf", "bill_"+string(id)+"_"+period.String()+".pdf", data)
}

// =============================================================================
// ADMIN / SYSTEM HANDLERS
// =============================================================================

// SeedDemoData loads the demo dataset.
// POST /api/admin/seed
func (h *Handler) SeedDemoData(w http.ResponseWriter, r *http.Request) {
	result, err := seed.Run(r.Context(), seed.Stores{
		Directory: h.Backend,
		Bills:     h.Backend,
		Payments:  h.Backend,
	}, h.clock.Now())
	if err != nil {
		h.respondError(w, err, "Failed to seed database")
		return
	}

	h.logger.Printf("[Seed] Seeded %d occupants, %d bills, %d confirmations", result.Occupants, result.Bills, result.Confirmations)
	writeJSON(w, http.StatusOK, result)
}

// Health reports whether the database answers.
// GET /api/system/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "healthy", Database: "ok", Time: h.clock.Now()}

	if p, ok := h.Backend.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Database = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// respondError maps domain errors onto HTTP status codes.
func (h *Handler) respondError(w http.ResponseWriter, err error, message string) {
	var verr *dues.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "Validation failed", map[string]string{
			"field":   verr.Field,
			"message": verr.Message,
		})
	case dues.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case dues.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.logger.Printf("[API] %s: %v", message, err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func resultFor(err error) string {
	switch {
	case dues.IsNotFound(err):
		return metrics.ResultNotFound
	case dues.IsClientError(err):
		return metrics.ResultInvalid
	}
	return metrics.ResultError
}

func periodParam(w http.ResponseWriter, r *http.Request) (dues.Period, bool) {
	raw := chi.URLParam(r, "billing_month")
	period, err := dues.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid billing_month, expected YYYY-MM", err)
		return dues.Period{}, false
	}
	return period, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError accepts an error or a structured details value.
func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message}
	switch d := details.(type) {
	case nil:
	case error:
		resp.Details = d.Error()
	default:
		resp.Details = d
	}
	writeJSON(w, status, resp)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
