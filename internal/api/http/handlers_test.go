package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heart-risk-service/internal/common/config"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/inference"
	"heart-risk-service/internal/service"
	"heart-risk-service/internal/store"
)

type identity struct{}

func (identity) Transform(x inference.ScaledVector) (inference.ScaledVector, error) { return x, nil }

type countingClassifier struct {
	mu       sync.Mutex
	positive float64
	calls    int
}

func (c *countingClassifier) PredictProba(inference.ScaledVector) (inference.Probabilities, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return inference.Probabilities{Negative: 1 - c.positive, Positive: c.positive}, nil
}

func (c *countingClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type memoryStore struct {
	mu      sync.Mutex
	records []store.Record
}

func (m *memoryStore) Save(_ context.Context, fv inference.FeatureVector, res inference.PredictionResult, transport string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "pred-" + string(rune('a'+len(m.records)))
	m.records = append(m.records, store.Record{
		ID:             id,
		Features:       fv,
		PredictedClass: res.PredictedClass(),
		Probability:    res.Probability,
		Threshold:      res.Threshold,
		Transport:      transport,
		CreatedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	return id, nil
}

func (m *memoryStore) Stats(context.Context) (*store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &store.Stats{Total: int64(len(m.records))}
	for _, r := range m.records {
		if r.PredictedClass == 1 {
			st.Positive++
		} else {
			st.Negative++
		}
	}
	return st, nil
}

func (m *memoryStore) Recent(_ context.Context, limit int) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]store.Record(nil), m.records...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// brokenBody fails the test if the handler reads it.
type brokenBody struct{ t *testing.T }

func (b brokenBody) Read([]byte) (int, error) {
	b.t.Error("request body must not be read")
	return 0, stderrors.New("unexpected read")
}

var riskyValues = map[string]string{
	"age": "80", "sex": "1", "cp": "4", "trestbps": "180", "chol": "350", "fbs": "1", "restecg": "2",
	"thalach": "90", "exang": "1", "oldpeak": "4.0", "slope": "2", "ca": "3", "thal": "7",
}

func riskyForm() url.Values {
	form := url.Values{}
	for k, v := range riskyValues {
		form.Set(k, v)
	}
	return form
}

type testServer struct {
	router http.Handler
	svc    *service.PredictionService
	clf    *countingClassifier
}

func newTestServer(t *testing.T, positive float64, st service.Store) *testServer {
	t.Helper()
	clf := &countingClassifier{positive: positive}
	ic, err := inference.NewInferenceContext(inference.DefaultStats(), identity{}, clf, inference.Policy{Threshold: inference.DefaultThreshold})
	require.NoError(t, err)
	return newTestServerWith(t, inference.NewPipeline(ic), clf, st)
}

func newTestServerWith(t *testing.T, p *inference.Pipeline, clf *countingClassifier, st service.Store) *testServer {
	t.Helper()
	log := logger.NewTestLogger(t)
	svc := service.NewPredictionService(p, service.Options{Store: st}, log)

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "chart_930d8517.png"), []byte("png"), 0o644))

	h, err := NewHandler(svc, 4096, log)
	require.NoError(t, err)
	return &testServer{
		router: NewRouter(h, config.ServerConfig{StaticDir: static}, log),
		svc:    svc,
		clf:    clf,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	ts.svc.Wait()
	return w
}

func formRequest(path string, form url.Values, xhr bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if xhr {
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPredict_XHRReturnsJSON(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)

	w := ts.do(formRequest("/predict", riskyForm(), true))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	body := decode(t, w)
	assert.Equal(t, "🧠 Positive: Risk of Heart Disease (prob=0.78 >= 0.3)", body["prediction"])
	assert.Equal(t, 0.78, body["probability"])
	assert.Equal(t, true, body["is_positive"])
	assert.Equal(t, 0.3, body["threshold"])
}

func TestPredict_BrowserRendersPage(t *testing.T) {
	ts := newTestServer(t, 0.1, nil)

	w := ts.do(formRequest("/predict", riskyForm(), false))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Negative: No Heart Disease (prob=0.10")
	assert.Contains(t, w.Body.String(), NegativeChartURL)
	assert.Contains(t, w.Body.String(), `value="350"`)
}

func TestPredict_MissingFieldNeverReachesModel(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)
	form := riskyForm()
	form.Del("chol")

	w := ts.do(formRequest("/predict", form, true))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "MISSING_FIELD", body["code"])
	assert.Equal(t, "chol", body["field"])
	assert.Contains(t, body["error"], "chol")
	assert.Zero(t, ts.clf.Calls())
}

func TestPredict_InvalidFieldNamesField(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)
	form := riskyForm()
	form.Set("age", "abc")

	w := ts.do(formRequest("/predict", form, true))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "INVALID_FIELD", body["code"])
	assert.Equal(t, "age", body["field"])

	w = ts.do(formRequest("/predict", form, false))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "❌ Error: field")
	assert.Zero(t, ts.clf.Calls())
}

func TestPredict_JSONBody(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)

	payload, err := json.Marshal(riskyValues)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")

	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["is_positive"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/predict",
		strings.NewReader(`{"age":80,"sex":1,"cp":4,"trestbps":180,"chol":350,"fbs":1,"restecg":2,"thalach":90,"exang":1,"oldpeak":4.0,"slope":2,"ca":3,"thal":7,"bmi":31}`))
	req.Header.Set("Content-Type", "application/json")
	w = ts.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PAYLOAD", decode(t, w)["code"])
}

func TestPredictAPI_AlwaysJSON(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)

	w := ts.do(formRequest("/api/v1/predict", riskyForm(), false))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["is_positive"])
}

func TestPredict_AcceptHeaderSelectsJSON(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)
	req := formRequest("/predict", riskyForm(), false)
	req.Header.Set("Accept", "text/html;q=0.9, application/json")

	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func multipartRequest(t *testing.T, values map[string]string, xhr bool) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if xhr {
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	return req
}

func TestPredict_MultipartForm(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)

	w := ts.do(multipartRequest(t, riskyValues, true))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "🧠 Positive: Risk of Heart Disease (prob=0.78 >= 0.3)", decode(t, w)["prediction"])
	assert.Equal(t, 1, ts.clf.Calls())

	w = ts.do(multipartRequest(t, riskyValues, false))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `value="350"`)

	partial := map[string]string{}
	for k, v := range riskyValues {
		if k != "thal" {
			partial[k] = v
		}
	}
	w = ts.do(multipartRequest(t, partial, true))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "MISSING_FIELD", body["code"])
	assert.Equal(t, "thal", body["field"])
	assert.Equal(t, 2, ts.clf.Calls())
}

func TestPredict_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)
	form := riskyForm()
	form.Set("padding", strings.Repeat("x", 8192))

	w := ts.do(formRequest("/predict", form, true))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PAYLOAD", decode(t, w)["code"])
}

func TestDisabledService(t *testing.T) {
	p := inference.NewPipeline(inference.Disabled(stderrors.New("model artifact not found")))
	ts := newTestServerWith(t, p, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/predict", brokenBody{t})
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	w := ts.do(req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "MODEL_UNAVAILABLE", decode(t, w)["code"])

	req = httptest.NewRequest(http.MethodPost, "/predict", brokenBody{t})
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = ts.do(req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "❌ Error:")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "disabled", body["status"])
	assert.Equal(t, "model artifact not found", body["reason"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unavailable")
}

func TestReadyAndIndex(t *testing.T) {
	ts := newTestServer(t, 0.5, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, inference.SchemaVersion, body["schema_version"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	for _, name := range inference.FeatureColumns {
		assert.Contains(t, w.Body.String(), `name="`+name+`"`)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	st := &memoryStore{}
	ts := newTestServer(t, 0.78, st)

	require.Equal(t, http.StatusOK, ts.do(formRequest("/predict", riskyForm(), true)).Code)
	require.Len(t, st.records, 1)
	assert.Equal(t, service.TransportHTTP, st.records[0].Transport)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total_patients"])
	assert.Equal(t, float64(1), body["positive_cases"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/recent?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	preds := decode(t, w)["predictions"].([]interface{})
	require.Len(t, preds, 1)
	features := preds[0].(map[string]interface{})["features"].(map[string]interface{})
	assert.Equal(t, float64(350), features["chol"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/recent?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pred-a")
	assert.Contains(t, w.Body.String(), "Male")
	assert.Contains(t, w.Body.String(), PositiveChartURL)
}

func TestHistoryDisabled(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "not configured")
}

func TestStaticSchemaAndMetrics(t *testing.T) {
	ts := newTestServer(t, 0.78, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, PositiveChartURL, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png", w.Body.String())

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/schema", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"thal"`)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "heart_risk_model_ready")
}

// brokenWriter accepts the header and fails every body write.
type brokenWriter struct {
	header   http.Header
	statuses []int
}

func (b *brokenWriter) Header() http.Header { return b.header }

func (b *brokenWriter) WriteHeader(code int) { b.statuses = append(b.statuses, code) }

func (b *brokenWriter) Write([]byte) (int, error) { return 0, stderrors.New("broken pipe") }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	ic, err := inference.NewInferenceContext(inference.DefaultStats(), identity{}, &countingClassifier{positive: 0.1}, inference.Policy{Threshold: inference.DefaultThreshold})
	require.NoError(t, err)
	log := logger.NewTestLogger(t)
	h, err := NewHandler(service.NewPredictionService(inference.NewPipeline(ic), service.Options{}, log), 4096, log)
	require.NoError(t, err)
	return h
}

func TestRender_WriteFailureSendsOneHeader(t *testing.T) {
	h := newTestHandler(t)

	w := &brokenWriter{header: http.Header{}}
	h.renderIndex(w, http.StatusBadRequest, newIndexPage(inference.DefaultThreshold, nil))
	assert.Equal(t, []int{http.StatusBadRequest}, w.statuses)
	assert.Contains(t, w.header.Get("Content-Type"), "text/html")

	w = &brokenWriter{header: http.Header{}}
	h.render(w, h.pages.dashboard, http.StatusOK, dashboardPage{Notice: "Prediction history is not configured."})
	assert.Equal(t, []int{http.StatusOK}, w.statuses)
}

func TestRender_ExecuteFailureFallsBack(t *testing.T) {
	h := newTestHandler(t)
	broken := template.Must(template.New("broken").Parse(`<p>{{.Missing}}</p>`))

	w := httptest.NewRecorder()
	h.render(w, broken, http.StatusOK, struct{}{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error\n", w.Body.String())
	assert.NotContains(t, w.Header().Get("Content-Type"), "text/html")
}
