// Package store persists served predictions to PostgreSQL for auditing and
// the dashboard.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"heart-risk-service/internal/common/database"
	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/inference"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Record is one persisted prediction.
type Record struct {
	ID             string                  `json:"id"`
	Features       inference.FeatureVector `json:"-"`
	PredictedClass int                     `json:"predicted_class"`
	Probability    float64                 `json:"probability"`
	Threshold      float64                 `json:"threshold"`
	Transport      string                  `json:"transport"`
	CreatedAt      time.Time               `json:"created_at"`
}

// Stats are the dashboard counters.
type Stats struct {
	Total              int64   `json:"total_patients"`
	Positive           int64   `json:"positive_cases"`
	Negative           int64   `json:"negative_cases"`
	AverageProbability float64 `json:"average_probability"`
}

var (
	featureColumnList = strings.Join(inference.FeatureColumns[:], ", ")

	createTableQuery = `CREATE TABLE IF NOT EXISTS predictions (
	id UUID PRIMARY KEY,
	age DOUBLE PRECISION NOT NULL,
	sex DOUBLE PRECISION NOT NULL,
	cp DOUBLE PRECISION NOT NULL,
	trestbps DOUBLE PRECISION NOT NULL,
	chol DOUBLE PRECISION NOT NULL,
	fbs DOUBLE PRECISION NOT NULL,
	restecg DOUBLE PRECISION NOT NULL,
	thalach DOUBLE PRECISION NOT NULL,
	exang DOUBLE PRECISION NOT NULL,
	oldpeak DOUBLE PRECISION NOT NULL,
	slope DOUBLE PRECISION NOT NULL,
	ca DOUBLE PRECISION NOT NULL,
	thal DOUBLE PRECISION NOT NULL,
	predicted_class SMALLINT NOT NULL,
	probability DOUBLE PRECISION NOT NULL,
	threshold DOUBLE PRECISION NOT NULL,
	transport TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

	createIndexQuery = `CREATE INDEX IF NOT EXISTS predictions_created_at_idx ON predictions (created_at DESC)`

	insertQuery = fmt.Sprintf(
		`INSERT INTO predictions (id, %s, predicted_class, probability, threshold, transport, created_at) VALUES (%s)`,
		featureColumnList, placeholders(inference.NumFeatures+6),
	)

	statsQuery = `SELECT COUNT(*), COUNT(*) FILTER (WHERE predicted_class = 1), COALESCE(AVG(probability), 0) FROM predictions`

	recentQuery = fmt.Sprintf(
		`SELECT id, %s, predicted_class, probability, threshold, transport, created_at FROM predictions ORDER BY created_at DESC LIMIT $1`,
		featureColumnList,
	)
)

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

// PredictionStore writes and reads the predictions table.
type PredictionStore struct {
	db     *database.PostgresClient
	logger logger.Logger
	now    func() time.Time
	newID  func() uuid.UUID
}

func NewPredictionStore(db *database.PostgresClient, log logger.Logger) *PredictionStore {
	return &PredictionStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "prediction-store"}),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,
	}
}

// EnsureSchema creates the predictions table and index when missing.
func (s *PredictionStore) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{createTableQuery, createIndexQuery} {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.NewQueryExecutionFailedError("ensure_schema", err)
		}
	}
	return nil
}

// Save inserts one prediction and returns its id.
func (s *PredictionStore) Save(ctx context.Context, fv inference.FeatureVector, res inference.PredictionResult, transport string) (string, error) {
	id := s.newID().String()

	args := make([]interface{}, 0, inference.NumFeatures+6)
	args = append(args, id)
	for _, v := range fv {
		args = append(args, v)
	}
	args = append(args, res.PredictedClass(), res.Probability, res.Threshold, transport, s.now())

	if _, err := s.db.Exec(ctx, insertQuery, args...); err != nil {
		return "", errors.NewDatabaseInsertFailedError(err)
	}

	s.logger.Debug("Prediction stored", map[string]interface{}{
		"id":      id,
		"verdict": res.Verdict(),
	})
	return id, nil
}

func (s *PredictionStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRow(ctx, statsQuery).Scan(&st.Total, &st.Positive, &st.AverageProbability); err != nil {
		return nil, errors.NewQueryExecutionFailedError("prediction_stats", err)
	}
	st.Negative = st.Total - st.Positive
	return &st, nil
}

// Recent returns the newest predictions first. limit is clamped to
// [1, MaxRecentLimit]; zero selects DefaultRecentLimit.
func (s *PredictionStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}

	rows, err := s.db.Query(ctx, recentQuery, limit)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("recent_predictions", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		dest := make([]interface{}, 0, inference.NumFeatures+6)
		dest = append(dest, &r.ID)
		for i := range r.Features {
			dest = append(dest, &r.Features[i])
		}
		dest = append(dest, &r.PredictedClass, &r.Probability, &r.Threshold, &r.Transport, &r.CreatedAt)

		if err := rows.Scan(dest...); err != nil {
			return nil, errors.NewQueryExecutionFailedError("recent_predictions", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("recent_predictions", err)
	}
	return records, nil
}
