package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Brownie44l1/fer-recorder/internal/model"
)

// ErrPersistence reports failure to write or read prediction records
var ErrPersistence = errors.New("persistence error")

// Record is persisted form of a prediction
type Record struct {
	Label       string    `json:"label" bson:"label"`             // predicted label
	Probability float64   `json:"probability" bson:"probability"` // probability of predicted label
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`     // server time of the write
}

// Recorder keeps append-only log of predictions
type Recorder interface {
	// Record appends prediction stamped with current server time
	Record(ctx context.Context, p *model.Prediction) (Record, error)
	// Records returns all records in insertion order
	Records(ctx context.Context) ([]Record, error)
	Close() error
}

// Options defines recorder parameters
type Options struct {
	URI        string // database URI
	DBName     string // database name, MongoDB only
	Collection string // collection or table name
	Timeout    time.Duration
}

// Open returns recorder for the URI scheme
func Open(ctx context.Context, opts Options) (Recorder, error) {
	scheme, _, _ := strings.Cut(opts.URI, "://")
	switch strings.ToLower(scheme) {
	case "mongodb":
		return NewMongoRecorder(opts)
	case "postgres", "postgresql":
		return NewPostgresRecorder(ctx, opts)
	case "memory":
		return NewMemoryRecorder(), nil
	}
	return nil, fmt.Errorf("unsupported database URI scheme %q", scheme)
}

// helper function to create new record, databases keep millisecond
// precision so we round up to never store time before the write
func newRecord(p *model.Prediction) Record {
	now := time.Now().UTC()
	ts := now.Truncate(time.Millisecond)
	if ts.Before(now) {
		ts = ts.Add(time.Millisecond)
	}
	return Record{
		Label:       string(p.Label),
		Probability: widen(p.Probability),
		Timestamp:   ts,
	}
}

// widen converts float32 into float64 with the same shortest decimal form,
// so stored probability matches the one returned to the client
func widen(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}
