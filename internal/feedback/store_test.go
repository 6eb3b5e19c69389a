package feedback

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductd/internal/gate"
)

func TestMemoryStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	s := NewMemoryStore()
	rec := &Record{
		FindingID:       "f-1",
		FindingKind:     "sql_injection",
		OriginalVerdict: gate.VerdictBlock,
		Correction:      CorrectionConfirmed,
	}

	require.NoError(t, s.Append(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestMemoryStore_RejectsInvalidRecords(t *testing.T) {
	s := NewMemoryStore()

	tests := []struct {
		name string
		rec  Record
	}{
		{"missing finding id", Record{FindingKind: "x", Correction: CorrectionConfirmed}},
		{"missing kind", Record{FindingID: "f", Correction: CorrectionConfirmed}},
		{"bad correction", Record{FindingID: "f", FindingKind: "x", Correction: "undo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			assert.Error(t, s.Append(context.Background(), &rec))
		})
	}
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ListReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Append(context.Background(), &Record{
		FindingID: "f-1", FindingKind: "xss", Correction: CorrectionConfirmed,
	}))

	list, err := s.List(context.Background())
	require.NoError(t, err)
	list[0].FindingKind = "mutated"

	again, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xss", again[0].FindingKind)
}

func TestMemoryStore_StatsByKind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	appendN := func(kind string, c Correction, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, s.Append(ctx, &Record{
				FindingID: "f", FindingKind: kind, Correction: c,
			}))
		}
	}

	appendN("lint", CorrectionFalsePositive, 8)
	appendN("lint", CorrectionConfirmed, 2)
	appendN("race", CorrectionFalseNegative, 3)

	stats, err := s.StatsByKind(ctx)
	require.NoError(t, err)

	lint := stats["lint"]
	assert.Equal(t, 10, lint.Total)
	assert.Equal(t, 8, lint.FalsePositives)
	assert.InDelta(t, 0.8, lint.FPRate(), 1e-9)

	race := stats["race"]
	assert.Equal(t, 3, race.Total)
	assert.InDelta(t, 1.0, race.FNRate(), 1e-9)
}

func TestMemoryStore_ConcurrentAppenders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Append(ctx, &Record{
					FindingID: "f", FindingKind: "xss", Correction: CorrectionConfirmed,
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, s.Len())
}
