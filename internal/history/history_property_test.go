package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/remote-notebook/kernelclient/internal/kernel"
)

// TestHistoryRoundTripProperties tests that arbitrary executions survive the
// store intact and that purging removes exactly one document's rows.
func TestHistoryRoundTripProperties(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory error: %v", err)
	}
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	shortString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})

	// Monotonic finish times keep list ordering deterministic across
	// iterations.
	finished := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("recorded executions round-trip through the store", prop.ForAll(
		func(document, code, errMsg string, failed bool) bool {
			finished = finished.Add(time.Second)

			status := kernel.OutcomeOK
			recordedErr := ""
			if failed {
				status = kernel.OutcomeFailed
				recordedErr = errMsg
			}

			ex := kernel.Execution{
				CorrelationID: uuid.NewString(),
				Document:      document,
				KernelID:      uuid.NewString(),
				Code:          code,
				Status:        status,
				Error:         recordedErr,
				StartedAt:     finished.Add(-time.Second),
				FinishedAt:    finished,
			}

			if err := repo.Record(ctx, ex); err != nil {
				t.Logf("failed to record execution: %v", err)
				return false
			}

			got, err := repo.GetByID(ctx, ex.CorrelationID)
			if err != nil {
				t.Logf("failed to retrieve execution: %v", err)
				return false
			}
			if got.Document != ex.Document ||
				got.KernelID != ex.KernelID ||
				got.Code != ex.Code ||
				got.Status != ex.Status ||
				got.Error != ex.Error {
				t.Logf("retrieved execution does not match recorded one")
				return false
			}
			if !got.StartedAt.Equal(ex.StartedAt) || !got.FinishedAt.Equal(ex.FinishedAt) {
				t.Logf("timestamps did not round-trip")
				return false
			}

			listed, err := repo.ListByDocument(ctx, document, 1)
			if err != nil {
				t.Logf("failed to list executions: %v", err)
				return false
			}
			return len(listed) == 1 && listed[0].CorrelationID == ex.CorrelationID
		},
		shortString,
		shortString,
		shortString,
		gen.Bool(),
	))

	properties.Property("purge removes exactly the document's executions", prop.ForAll(
		func(countA, countB int) bool {
			docA := "doc-" + uuid.NewString()
			docB := "doc-" + uuid.NewString()

			for i := 0; i < countA; i++ {
				finished = finished.Add(time.Second)
				if err := repo.Record(ctx, sampleExecution(uuid.NewString(), docA, finished)); err != nil {
					t.Logf("failed to record execution: %v", err)
					return false
				}
			}
			for i := 0; i < countB; i++ {
				finished = finished.Add(time.Second)
				if err := repo.Record(ctx, sampleExecution(uuid.NewString(), docB, finished)); err != nil {
					t.Logf("failed to record execution: %v", err)
					return false
				}
			}

			removed, err := repo.Purge(ctx, docA)
			if err != nil {
				t.Logf("failed to purge: %v", err)
				return false
			}
			if removed != int64(countA) {
				t.Logf("expected %d purged rows, got %d", countA, removed)
				return false
			}

			leftA, err := repo.ListByDocument(ctx, docA, 0)
			if err != nil || len(leftA) != 0 {
				t.Logf("expected empty history for purged document, got %d (%v)", len(leftA), err)
				return false
			}
			leftB, err := repo.ListByDocument(ctx, docB, 0)
			if err != nil || len(leftB) != countB {
				t.Logf("expected %d rows for untouched document, got %d (%v)", countB, len(leftB), err)
				return false
			}
			return true
		},
		gen.IntRange(0, 8),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
