package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mlboard-labs/mlboard-go/internal/domain"
	"github.com/mlboard-labs/mlboard-go/internal/repo"
)

func TestHandleNotFound(t *testing.T) {
	if got := handleNotFound(sql.ErrNoRows); !errors.Is(got, repo.ErrNotFound) {
		t.Fatalf("handleNotFound(ErrNoRows)=%v, want ErrNotFound", got)
	}
	sentinel := errors.New("boom")
	if got := handleNotFound(sentinel); !errors.Is(got, sentinel) {
		t.Fatalf("handleNotFound passthrough=%v", got)
	}
}

func TestHandleConflict(t *testing.T) {
	pgErr := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "runs_single_production"}
	if got := handleConflict(fmt.Errorf("insert: %w", pgErr)); !errors.Is(got, repo.ErrProductionConflict) {
		t.Fatalf("handleConflict(23505)=%v, want ErrProductionConflict", got)
	}
	other := &pgconn.PgError{Code: "23503"}
	if got := handleConflict(other); errors.Is(got, repo.ErrProductionConflict) {
		t.Fatalf("handleConflict(23503) should pass through")
	}
}

func TestTagsRoundTrip(t *testing.T) {
	raw, err := encodeTags([]string{"vision", "nlp"})
	if err != nil {
		t.Fatalf("encodeTags() err=%v", err)
	}
	tags, err := decodeTags(raw)
	if err != nil {
		t.Fatalf("decodeTags() err=%v", err)
	}
	if len(tags) != 2 || tags[0] != "vision" || tags[1] != "nlp" {
		t.Fatalf("decodeTags()=%v", tags)
	}

	empty, err := decodeTags(nil)
	if err != nil || empty == nil {
		t.Fatalf("decodeTags(nil)=%v err=%v, want empty slice", empty, err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	raw, err := encodeMetadata(domain.Metadata{"train_time": 60})
	if err != nil {
		t.Fatalf("encodeMetadata() err=%v", err)
	}
	meta, err := decodeMetadata(raw)
	if err != nil {
		t.Fatalf("decodeMetadata() err=%v", err)
	}
	if meta.Int("train_time", 0) != 60 {
		t.Fatalf("decodeMetadata()=%v", meta)
	}

	empty, err := decodeMetadata(nil)
	if err != nil || empty == nil {
		t.Fatalf("decodeMetadata(nil)=%v err=%v, want empty map", empty, err)
	}
}

func TestNormalizeTime(t *testing.T) {
	if got := normalizeTime(time.Time{}); got.IsZero() {
		t.Fatalf("normalizeTime(zero) should default to now")
	}
	loc := time.FixedZone("EST", -5*3600)
	in := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)
	if got := normalizeTime(in); got.Location() != time.UTC {
		t.Fatalf("normalizeTime should convert to UTC, got %v", got.Location())
	}
}

func TestMetricsRoundTrip(t *testing.T) {
	m := domain.Metrics{Accuracy: 0.93, LogLoss: 0.21}
	raw, err := encodeRunMetrics(m)
	if err != nil {
		t.Fatalf("encodeRunMetrics() err=%v", err)
	}
	var out domain.Metrics
	if err := decodeRunMetrics(raw, &out); err != nil {
		t.Fatalf("decodeRunMetrics() err=%v", err)
	}
	if out != m {
		t.Fatalf("metrics round trip=%+v, want %+v", out, m)
	}
	var zero domain.Metrics
	if err := decodeRunMetrics(nil, &zero); err != nil || !zero.Zero() {
		t.Fatalf("decodeRunMetrics(nil) should leave zero metrics")
	}
}
