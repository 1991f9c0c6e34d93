package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/guregu/null.v4"

	"anpr-tracker/internal/domain/anpr"
	"anpr-tracker/internal/repository"
	"anpr-tracker/internal/utils"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidConfig = errors.New("invalid config")
	ErrNotFound      = errors.New("not found")
)

// PlateStore is the persistence the history service reads from.
type PlateStore interface {
	FindPlatesByNormalized(ctx context.Context, normalized string) ([]repository.Plate, error)
	GetLastSightingTimeForPlate(ctx context.Context, plateID int64) (*time.Time, error)
	FindAlerts(ctx context.Context, limit, offset int) ([]repository.TargetAlert, error)
	DeleteOldSightings(ctx context.Context, days int) (int64, error)
}

// PlateService answers history questions about discovered plate numbers.
type PlateService struct {
	repo PlateStore
	log  zerolog.Logger
}

func NewPlateService(repo PlateStore, log zerolog.Logger) *PlateService {
	return &PlateService{
		repo: repo,
		log:  log,
	}
}

// FindPlates returns every discovered number that contains the query.
func (s *PlateService) FindPlates(ctx context.Context, plateQuery string) ([]PlateInfo, error) {
	normalized := utils.NormalizePlate(plateQuery)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
	}

	plates, err := s.repo.FindPlatesByNormalized(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find plates: %w", err)
	}

	result := make([]PlateInfo, 0, len(plates))
	for _, p := range plates {
		lastSeen, err := s.repo.GetLastSightingTimeForPlate(ctx, p.ID)
		if err != nil {
			s.log.Warn().Err(err).Int64("plate_id", p.ID).Msg("failed to load last sighting")
		}
		result = append(result, PlateInfo{
			ID:           p.ID,
			Number:       p.Number,
			Normalized:   p.Normalized,
			FirstSeen:    p.CreatedAt,
			LastSeenTime: null.TimeFromPtr(lastSeen),
		})
	}

	return result, nil
}

func (s *PlateService) FindAlerts(ctx context.Context, limit, offset int) ([]anpr.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.repo.FindAlerts(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find alerts: %w", err)
	}
	result := make([]anpr.AlertEvent, 0, len(rows))
	for _, r := range rows {
		result = append(result, anpr.AlertEvent{
			Target:  r.Target,
			Plate:   r.Plate,
			TrackID: r.TrackID,
			At:      r.AlertedAt,
		})
	}
	return result, nil
}

// CleanupOldSightings deletes sightings older than the given number of days.
func (s *PlateService) CleanupOldSightings(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidInput)
	}
	deleted, err := s.repo.DeleteOldSightings(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old sightings")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old sightings")
	}
	return deleted, nil
}

type PlateInfo struct {
	ID           int64     `json:"id"`
	Number       string    `json:"number"`
	Normalized   string    `json:"normalized"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeenTime null.Time `json:"last_seen_time"`
}
