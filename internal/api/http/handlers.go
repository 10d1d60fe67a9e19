package http

import (
	"context"
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/inference"
	"heart-risk-service/internal/service"
	"heart-risk-service/internal/store"
)

const dashboardRows = 20

// PredictionService is the part of service.PredictionService the
// handlers depend on.
type PredictionService interface {
	Ready() bool
	Reason() error
	Threshold() float64
	Predict(ctx context.Context, fv inference.FeatureVector, transport string) (*inference.PredictionResult, error)
	RecordFailure(ctx context.Context, transport string, err error)
	HistoryEnabled() bool
	Stats(ctx context.Context) (*store.Stats, error)
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

type Handler struct {
	svc          PredictionService
	pages        *pages
	maxBodyBytes int64
	logger       logger.Logger
}

func NewHandler(svc PredictionService, maxBodyBytes int64, log logger.Logger) (*Handler, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	return &Handler{
		svc:          svc,
		pages:        p,
		maxBodyBytes: maxBodyBytes,
		logger:       log,
	}, nil
}

// Index renders the empty form.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, http.StatusOK, newIndexPage(h.svc.Threshold(), nil))
}

// Predict serves both browsers and programmatic clients. The response
// shape is chosen from the request headers alone.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	h.predict(w, r, wantsJSON(r))
}

// PredictAPI always answers with JSON.
func (h *Handler) PredictAPI(w http.ResponseWriter, r *http.Request) {
	h.predict(w, r, true)
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request, asJSON bool) {
	ctx := r.Context()

	if !h.svc.Ready() {
		err := errors.NewModelUnavailableError(h.svc.Reason().Error())
		h.svc.RecordFailure(ctx, service.TransportHTTP, err)
		h.fail(w, asJSON, err, nil)
		return
	}

	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	fv, echo, err := h.parse(r)
	if err != nil {
		h.svc.RecordFailure(ctx, service.TransportHTTP, err)
		h.fail(w, asJSON, err, echo)
		return
	}

	res, err := h.svc.Predict(ctx, fv, service.TransportHTTP)
	if err != nil {
		h.fail(w, asJSON, err, echo)
		return
	}

	if asJSON {
		respondJSON(w, http.StatusOK, res)
		return
	}
	page := newIndexPage(res.Threshold, echo)
	page.Prediction = res.Label
	page.ChartURL = ChartURL(res.IsPositive)
	h.renderIndex(w, http.StatusOK, page)
}

// parse returns the vector plus a lookup of the raw submitted values for
// re-rendering the form.
func (h *Handler) parse(r *http.Request) (inference.FeatureVector, func(string) string, error) {
	mediaType := contentType(r)

	if mediaType == "application/json" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return inference.FeatureVector{}, nil, bodyError(err)
		}
		fv, err := inference.ParseJSON(body)
		return fv, nil, err
	}

	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(h.multipartMemory())
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return inference.FeatureVector{}, nil, bodyError(err)
	}
	fv, err := inference.ParseForm(r.PostForm)
	return fv, r.PostForm.Get, err
}

func (h *Handler) multipartMemory() int64 {
	if h.maxBodyBytes > 0 {
		return h.maxBodyBytes
	}
	return 1 << 20
}

// Health reports liveness only and never depends on the model.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "disabled",
			"reason": h.svc.Reason().Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ready",
		"threshold":      h.svc.Threshold(),
		"schema_version": inference.SchemaVersion,
	})
}

// Schema returns the JSON Schema accepted by the predict endpoints.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, inference.RequestSchema())
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.historyError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondJSON(w, http.StatusBadRequest, errorResponse{
				Error: "limit must be a non-negative integer",
				Code:  string(errors.ErrCodeInvalidField),
				Field: "limit",
			})
			return
		}
		limit = n
	}

	records, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		h.historyError(w, err)
		return
	}

	type item struct {
		store.Record
		Features map[string]float64 `json:"features"`
	}
	out := make([]item, 0, len(records))
	for _, rec := range records {
		out = append(out, item{Record: rec, Features: rec.Features.Map()})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"predictions": out})
}

// Dashboard renders counters and the latest predictions.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	page := dashboardPage{}
	status := http.StatusOK

	if !h.svc.HistoryEnabled() {
		page.Notice = "Prediction history is not configured."
	} else if stats, err := h.svc.Stats(r.Context()); err != nil {
		h.logger.Error("Dashboard stats failed", map[string]interface{}{"error": err.Error()})
		page.Notice = "Prediction history is temporarily unavailable."
		status = http.StatusInternalServerError
	} else if records, err := h.svc.Recent(r.Context(), dashboardRows); err != nil {
		h.logger.Error("Dashboard history failed", map[string]interface{}{"error": err.Error()})
		page.Notice = "Prediction history is temporarily unavailable."
		status = http.StatusInternalServerError
	} else {
		page.Stats = *stats
		page.Rows = newDashboardRows(records)
	}

	h.render(w, h.pages.dashboard, status, page)
}

func (h *Handler) historyError(w http.ResponseWriter, err error) {
	if stderrors.Is(err, service.ErrHistoryDisabled) {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	se := errors.AsStandardError(err)
	h.logger.Error("Prediction history query failed", map[string]interface{}{
		"errorCode": string(se.Code),
		"error":     se.Message,
	})
	respondJSON(w, http.StatusInternalServerError, errorResponse{Error: se.Message, Code: string(se.Code)})
}

func (h *Handler) fail(w http.ResponseWriter, asJSON bool, err error, echo func(string) string) {
	se := errors.AsStandardError(err)
	status := errors.HTTPStatus(se.Code)

	if asJSON {
		respondJSON(w, status, errorResponse{Error: se.Message, Code: string(se.Code), Field: se.Field()})
		return
	}
	page := newIndexPage(h.svc.Threshold(), echo)
	page.Error = se.Message
	h.renderIndex(w, status, page)
}

func (h *Handler) renderIndex(w http.ResponseWriter, status int, page indexPage) {
	h.render(w, h.pages.index, status, page)
}

// wantsJSON selects the programmatic response shape.
func wantsJSON(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	if contentType(r) == "application/json" {
		return true
	}
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		if mt, _, err := mime.ParseMediaType(strings.TrimSpace(accept)); err == nil && mt == "application/json" {
			return true
		}
	}
	return false
}

func contentType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.NewInvalidPayloadError("request body too large")
	}
	return errors.NewInvalidPayloadError(err.Error())
}
