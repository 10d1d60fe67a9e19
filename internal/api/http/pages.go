package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"heart-risk-service/internal/inference"
	"heart-risk-service/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Chart assets shown next to a verdict.
const (
	PositiveChartURL = "/static/chart_930d8517.png"
	NegativeChartURL = "/static/chart_aa744cfa.png"
)

// ChartURL returns the chart asset for a verdict.
func ChartURL(positive bool) string {
	if positive {
		return PositiveChartURL
	}
	return NegativeChartURL
}

type formField struct {
	inference.FeatureHint
	Value string
}

type indexPage struct {
	Threshold  string
	Fields     []formField
	Prediction string
	ChartURL   string
	Error      string
}

type dashboardRow struct {
	ID          string
	Age         string
	Sex         string
	Prediction  string
	Probability float64
	Transport   string
	ChartURL    string
	CreatedAt   time.Time
}

type dashboardPage struct {
	Notice string
	Stats  store.Stats
	Rows   []dashboardRow
}

type pages struct {
	index     *template.Template
	dashboard *template.Template
}

func loadPages() (*pages, error) {
	index, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}
	dashboard, err := template.ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}
	return &pages{index: index, dashboard: dashboard}, nil
}

// newIndexPage echoes submitted values back into the form.
func newIndexPage(threshold float64, values func(string) string) indexPage {
	page := indexPage{Fields: make([]formField, 0, inference.NumFeatures)}
	if threshold > 0 {
		page.Threshold = strconv.FormatFloat(threshold, 'f', -1, 64)
	} else {
		page.Threshold = "unavailable"
	}
	for _, hint := range inference.FeatureHints {
		f := formField{FeatureHint: hint}
		if values != nil {
			f.Value = values(hint.Name)
		}
		page.Fields = append(page.Fields, f)
	}
	return page
}

func newDashboardRows(records []store.Record) []dashboardRow {
	rows := make([]dashboardRow, 0, len(records))
	for _, rec := range records {
		positive := rec.PredictedClass == 1
		row := dashboardRow{
			ID:          rec.ID,
			Age:         strconv.FormatFloat(rec.Features[0], 'f', -1, 64),
			Sex:         "Female",
			Prediction:  "Negative",
			Probability: rec.Probability,
			Transport:   rec.Transport,
			ChartURL:    ChartURL(positive),
			CreatedAt:   rec.CreatedAt,
		}
		if rec.Features[1] == 1 {
			row.Sex = "Male"
		}
		if positive {
			row.Prediction = "Positive"
		}
		rows = append(rows, row)
	}
	return rows
}

// render buffers the template so a failure never leaves a half-written page.
// Only an execution failure falls back to a 500; once the header is out a
// failed write is logged and dropped.
func (h *Handler) render(w http.ResponseWriter, tmpl *template.Template, status int, data interface{}) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		h.logger.Error("Failed to render page", map[string]interface{}{
			"template": tmpl.Name(),
			"error":    err.Error(),
		})
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("Failed to write page", map[string]interface{}{
			"template": tmpl.Name(),
			"error":    err.Error(),
		})
	}
}
