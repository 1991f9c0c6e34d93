package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-tracker/internal/domain/anpr"
)

type fakeStore struct {
	mu        sync.Mutex
	sightings []anpr.PlateRecord
	alerts    []anpr.AlertEvent
	err       error
}

func (f *fakeStore) CreateSighting(_ context.Context, rec anpr.PlateRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.sightings = append(f.sightings, rec)
	return int64(len(f.sightings)), nil
}

func (f *fakeStore) CreateAlert(_ context.Context, ev anpr.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, ev)
	return nil
}

func (f *fakeStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sightings), len(f.alerts)
}

func TestRecorderDrainsToStore(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	rec := NewRecorder(store, 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.SavePlate(anpr.PlateRecord{TrackID: uuid.New(), Number: "AB1234", Source: anpr.SourceCapture})
	rec.NotifyAlert(anpr.AlertEvent{Target: "AB123", Plate: "AB1234"})

	require.Eventually(t, func() bool {
		s, a := store.counts()
		return s == 1 && a == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRecorderFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	rec := NewRecorder(store, 4, zerolog.Nop())
	rec.SavePlate(anpr.PlateRecord{Number: "AB1234"})
	rec.SavePlate(anpr.PlateRecord{Number: "CD5678"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	s, _ := store.counts()
	assert.Equal(t, 2, s)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	rec := NewRecorder(store, 1, zerolog.Nop())
	rec.SavePlate(anpr.PlateRecord{Number: "AB1234"})
	rec.SavePlate(anpr.PlateRecord{Number: "CD5678"}) // must not block

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	s, _ := store.counts()
	assert.Equal(t, 1, s)
}

func TestRecorderSurvivesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("connection refused")}
	rec := NewRecorder(store, 2, zerolog.Nop())
	rec.SavePlate(anpr.PlateRecord{Number: "AB1234"})
	rec.NotifyAlert(anpr.AlertEvent{Plate: "AB1234"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { rec.Run(ctx) })
}
