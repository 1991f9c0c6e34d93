package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"anpr-tracker/internal/domain/anpr"
)

type ANPRRepository struct {
	db *gorm.DB
}

func NewANPRRepository(db *gorm.DB) *ANPRRepository {
	return &ANPRRepository{db: db}
}

type Plate struct {
	ID         int64  `gorm:"primaryKey"`
	Number     string `gorm:"not null"`
	Normalized string `gorm:"not null;uniqueIndex"`
	CreatedAt  time.Time
}

type PlateSighting struct {
	ID         int64                                      `gorm:"primaryKey"`
	PlateID    int64                                      `gorm:"not null"`
	TrackID    uuid.UUID                                  `gorm:"type:uuid;not null"`
	Source     string                                     `gorm:"not null"`
	Confidence float64
	Rect       datatypes.JSONType[anpr.Rect]              `gorm:"type:jsonb"`
	Readings   datatypes.JSONSlice[anpr.CandidateReading] `gorm:"type:jsonb"`
	FirstSeen  time.Time                                  `gorm:"not null"`
	SeenAt     time.Time                                  `gorm:"not null"`
	CreatedAt  time.Time
}

type TargetAlert struct {
	ID        int64     `gorm:"primaryKey"`
	Target    string    `gorm:"not null"`
	Plate     string    `gorm:"not null"`
	TrackID   uuid.UUID `gorm:"type:uuid;not null"`
	AlertedAt time.Time `gorm:"not null"`
	CreatedAt time.Time
}

func (r *ANPRRepository) GetOrCreatePlate(ctx context.Context, normalized string) (int64, error) {
	var plate Plate
	err := r.db.WithContext(ctx).Where("normalized = ?", normalized).First(&plate).Error
	if err == nil {
		return plate.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	plate = Plate{
		Number:     normalized,
		Normalized: normalized,
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&plate).Error; err != nil {
		return 0, err
	}
	return plate.ID, nil
}

// CreateSighting stores one validated number, creating its plate row on first sight.
func (r *ANPRRepository) CreateSighting(ctx context.Context, rec anpr.PlateRecord) (int64, error) {
	plateID, err := r.GetOrCreatePlate(ctx, rec.Number)
	if err != nil {
		return 0, err
	}

	sighting := PlateSighting{
		PlateID:    plateID,
		TrackID:    rec.TrackID,
		Source:     string(rec.Source),
		Confidence: rec.Confidence,
		Rect:       datatypes.NewJSONType(rec.Rect),
		Readings:   datatypes.NewJSONSlice(rec.Readings),
		FirstSeen:  rec.FirstSeen,
		SeenAt:     rec.SeenAt,
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&sighting).Error; err != nil {
		return 0, err
	}
	return sighting.ID, nil
}

func (r *ANPRRepository) CreateAlert(ctx context.Context, ev anpr.AlertEvent) error {
	row := TargetAlert{
		Target:    ev.Target,
		Plate:     ev.Plate,
		TrackID:   ev.TrackID,
		AlertedAt: ev.At,
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// FindPlatesByNormalized returns plates whose number contains the query.
func (r *ANPRRepository) FindPlatesByNormalized(ctx context.Context, normalized string) ([]Plate, error) {
	var plates []Plate
	err := r.db.WithContext(ctx).
		Where("normalized LIKE ?", "%"+normalized+"%").
		Order("created_at DESC").
		Limit(100).
		Find(&plates).Error
	return plates, err
}

func (r *ANPRRepository) GetLastSightingTimeForPlate(ctx context.Context, plateID int64) (*time.Time, error) {
	var sighting PlateSighting
	err := r.db.WithContext(ctx).
		Where("plate_id = ?", plateID).
		Order("seen_at DESC").
		First(&sighting).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &sighting.SeenAt, nil
}

func (r *ANPRRepository) FindAlerts(ctx context.Context, limit, offset int) ([]TargetAlert, error) {
	query := r.db.WithContext(ctx).Model(&TargetAlert{}).Order("alerted_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var alerts []TargetAlert
	err := query.Find(&alerts).Error
	return alerts, err
}

func (r *ANPRRepository) DeleteOldSightings(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).Where("seen_at < ?", cutoff).Delete(&PlateSighting{})
	return res.RowsAffected, res.Error
}
