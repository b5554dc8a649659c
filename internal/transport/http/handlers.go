package httpserver

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridpulse/meterledger/internal/archive"
	"github.com/gridpulse/meterledger/internal/domain"
	"github.com/gridpulse/meterledger/internal/service"
)

// MeterAPI is the subset of the service the HTTP layer needs, to keep tests
// simple.
type MeterAPI interface {
	RegisterAccount(meterID, owner, location string) (domain.Device, error)
	RecordReading(meterID string, ts time.Time, value float64) error
	ConsumptionForPeriod(meterID, period string) (service.ConsumptionResult, error)
	LastMonthBill(meterID string) (service.ConsumptionResult, error)
	Archive(kind archive.Kind, evict bool) (archive.Outcome, error)
	Suspend()
	Resume()
	Accepting() bool
}

type Server struct {
	api MeterAPI
	mux *http.ServeMux
}

func New(api MeterAPI) *Server {
	s := &Server{
		api: api,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := newRequestID()

	w.Header().Set("X-Request-Id", reqID)
	rr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if rec := recover(); rec != nil {
			rr.status = http.StatusInternalServerError

			// Best-effort response. If headers/body were already written, we can
			// only log.
			if !rr.wroteHeader {
				writeAPIError(rr, http.StatusInternalServerError, "internal_error", "internal error")
			}

			log.Printf("panic handling %s %s req_id=%s: %v\n%s",
				r.Method, r.URL.Path, reqID, rec, debug.Stack(),
			)
		}

		dur := time.Since(start)
		observeHTTPRequest(r, rr.status, dur)

		// Keep health checks + metrics endpoint quiet.
		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			log.Printf("%s %s -> %d (%s) req_id=%s",
				r.Method, r.URL.Path, rr.status, dur.Truncate(time.Millisecond), reqID,
			)
		}
	}()

	s.mux.ServeHTTP(rr, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/register_account", s.handleRegisterAccount)
	s.mux.HandleFunc("/receive_meter_reading", s.handleReceiveReading)
	s.mux.HandleFunc("/get_consumption", s.handleGetConsumption)
	s.mux.HandleFunc("/get_last_month_bill", s.handleLastMonthBill)
	s.mux.HandleFunc("/archive_and_prepare", s.handleArchive)
	s.mux.HandleFunc("/maintenance/status", s.handleMaintenanceStatus)
	s.mux.HandleFunc("/shutdown", s.handleShutdown)
	s.mux.HandleFunc("/resume", s.handleResume)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/", s.handleIndex)
}

func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	q := r.URL.Query()
	meterID := q.Get("meter_id")
	owner := q.Get("owner_name")
	location := q.Get("address")
	if meterID == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "meter_id is required")
		return
	}

	d, err := s.api.RegisterAccount(meterID, owner, location)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, registerResponseJSON{
		MeterID:   d.MeterID,
		Owner:     d.Owner,
		Address:   d.Location,
		CreatedAt: formatTime(d.CreatedAt),
		Message:   "Account successfully created",
	})
}

// handleReceiveReading ingests one half-hourly reading. Timestamps must be on
// the hour or half hour; 23:59:00 is accepted as the end-of-day reading and
// stored at the following midnight.
func (s *Server) handleReceiveReading(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	q := r.URL.Query()
	meterID := q.Get("meter_id")
	if meterID == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "meter_id is required")
		return
	}
	ts, err := parseTimestamp(q.Get("timestamp"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "invalid timestamp")
		return
	}
	value, err := strconv.ParseFloat(q.Get("reading"), 64)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "invalid reading")
		return
	}

	if err := s.api.RecordReading(meterID, ts, value); err != nil {
		writeServiceError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, readingAckJSON{
		Success: true,
		Message: "Reading recorded successfully",
	})
}

func (s *Server) handleGetConsumption(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	meterID := q.Get("meter_id")
	periodName := q.Get("period")
	if meterID == "" || periodName == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "meter_id and period are required")
		return
	}

	res, err := s.api.ConsumptionForPeriod(meterID, periodName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, consumptionJSON{
		MeterID:      res.MeterID,
		Period:       res.Period,
		Consumption:  res.Consumption,
		StartTime:    formatTime(res.StartTime),
		StartReading: res.StartValue,
		EndTime:      formatTime(res.EndTime),
		EndReading:   res.EndValue,
	})
}

func (s *Server) handleLastMonthBill(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	meterID := r.URL.Query().Get("meter_id")
	if meterID == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "meter_id is required")
		return
	}

	res, err := s.api.LastMonthBill(meterID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, consumptionJSON{
		MeterID:      res.MeterID,
		Period:       res.Period,
		Consumption:  res.Consumption,
		StartTime:    formatTime(res.StartTime),
		StartReading: res.StartValue,
		EndTime:      formatTime(res.EndTime),
		EndReading:   res.EndValue,
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	q := r.URL.Query()
	kind := archive.Kind(q.Get("period"))
	if !kind.Valid() {
		writeAPIError(w, http.StatusBadRequest, "invalid_argument", "period must be 'daily' or 'monthly'")
		return
	}
	// Monthly maintenance clears archived readings out of memory; daily keeps
	// them for same-month queries.
	evict := kind == archive.Monthly
	if v := q.Get("evict"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_argument", "invalid evict flag")
			return
		}
		evict = b
	}

	out, err := s.api.Archive(kind, evict)
	if err != nil && !errors.Is(err, domain.ErrArchivePartialFailure) {
		writeServiceError(w, err)
		return
	}
	resp := archiveResponseJSON{
		Success:          err == nil,
		Period:           string(kind),
		Partition:        out.Key.String(),
		DevicesArchived:  out.DevicesArchived,
		ReadingsArchived: out.ReadingsArchived,
		Evicted:          out.Evicted,
		FailedDevices:    out.FailedDevices,
	}
	if err == nil {
		resp.Message = "Successfully archived " + string(kind) + " readings"
		_ = writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Message = "Some devices failed to archive"
	_ = writeJSON(w, http.StatusInternalServerError, resp)
}

func (s *Server) handleMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	_ = writeJSON(w, http.StatusOK, systemStatusJSON{
		IsReceivingData: s.api.Accepting(),
		Timestamp:       formatTime(time.Now()),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.api.Suspend()
	_ = writeJSON(w, http.StatusOK, systemStatusJSON{
		Success:         true,
		Message:         "System stopped receiving data",
		IsReceivingData: false,
		Timestamp:       formatTime(time.Now()),
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.api.Resume()
	_ = writeJSON(w, http.StatusOK, systemStatusJSON{
		Success:         true,
		Message:         "System resumed receiving data",
		IsReceivingData: true,
		Timestamp:       formatTime(time.Now()),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeAPIError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses. Every
// rejection carries a stable machine-readable code so callers can distinguish
// "no such device" from "no data" from "only one data point".
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownDevice):
		writeAPIError(w, http.StatusNotFound, "unknown_device", err.Error())
	case errors.Is(err, domain.ErrDeviceExists):
		writeAPIError(w, http.StatusConflict, "device_exists", err.Error())
	case errors.Is(err, domain.ErrIngestionSuspended):
		writeAPIError(w, http.StatusServiceUnavailable, "ingestion_suspended", err.Error())
	case errors.Is(err, domain.ErrInvalidTimestamp):
		writeAPIError(w, http.StatusBadRequest, "invalid_timestamp", err.Error())
	case errors.Is(err, domain.ErrNonMonotonicReading):
		writeAPIError(w, http.StatusBadRequest, "non_monotonic_reading", err.Error())
	case errors.Is(err, domain.ErrInvalidPeriod):
		writeAPIError(w, http.StatusBadRequest, "invalid_period", err.Error())
	case errors.Is(err, domain.ErrNoReadingsInPeriod):
		writeAPIError(w, http.StatusNotFound, "no_readings_in_period", err.Error())
	case errors.Is(err, domain.ErrInsufficientReadings):
		writeAPIError(w, http.StatusUnprocessableEntity, "insufficient_readings", err.Error())
	case errors.Is(err, domain.ErrLedgerInvariantBreach):
		writeAPIError(w, http.StatusInternalServerError, "ledger_invariant_breach", err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return false
	}
	return true
}

// parseTimestamp accepts RFC3339 and the zoneless "2006-01-02T15:04:05" form
// meters send; the latter is interpreted as UTC.
func parseTimestamp(v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", v, time.UTC)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(p)
}

func newRequestID() string {
	var b [6]byte // 12 hex chars
	if _, err := rand.Read(b[:]); err != nil {
		return "000000000000"
	}
	return hex.EncodeToString(b[:])
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	reqID := w.Header().Get("X-Request-Id")
	_ = writeJSON(w, status, apiErrorJSON{
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}
