package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"anpr-tracker/internal/domain/anpr"
)

// Store is what the recorder writes to. *ANPRRepository satisfies it.
type Store interface {
	CreateSighting(ctx context.Context, rec anpr.PlateRecord) (int64, error)
	CreateAlert(ctx context.Context, ev anpr.AlertEvent) error
}

// Recorder persists validated plates and alerts off the engine's hot path.
// SavePlate and NotifyAlert never block: when the buffer is full the item is
// dropped and logged.
type Recorder struct {
	store        Store
	log          zerolog.Logger
	plates       chan anpr.PlateRecord
	alerts       chan anpr.AlertEvent
	writeTimeout time.Duration
}

func NewRecorder(store Store, buffer int, log zerolog.Logger) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	return &Recorder{
		store:        store,
		log:          log,
		plates:       make(chan anpr.PlateRecord, buffer),
		alerts:       make(chan anpr.AlertEvent, buffer),
		writeTimeout: 5 * time.Second,
	}
}

func (r *Recorder) SavePlate(rec anpr.PlateRecord) {
	select {
	case r.plates <- rec:
	default:
		r.log.Warn().Str("plate", rec.Number).Msg("recorder buffer full, dropping plate")
	}
}

func (r *Recorder) NotifyAlert(ev anpr.AlertEvent) {
	select {
	case r.alerts <- ev:
	default:
		r.log.Warn().Str("plate", ev.Plate).Msg("recorder buffer full, dropping alert")
	}
}

// Run drains the buffers until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case rec := <-r.plates:
			r.writePlate(rec)
		case ev := <-r.alerts:
			r.writeAlert(ev)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case rec := <-r.plates:
			r.writePlate(rec)
		case ev := <-r.alerts:
			r.writeAlert(ev)
		default:
			return
		}
	}
}

func (r *Recorder) writePlate(rec anpr.PlateRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	id, err := r.store.CreateSighting(ctx, rec)
	if err != nil {
		r.log.Error().
			Err(err).
			Str("plate", rec.Number).
			Str("track_id", rec.TrackID.String()).
			Msg("failed to save plate sighting")
		return
	}
	r.log.Debug().Int64("sighting_id", id).Str("plate", rec.Number).Msg("saved plate sighting")
}

func (r *Recorder) writeAlert(ev anpr.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.CreateAlert(ctx, ev); err != nil {
		r.log.Error().Err(err).Str("target", ev.Target).Str("plate", ev.Plate).Msg("failed to save alert")
	}
}
