// Package breakdown owns the lifecycle of breakdown records: creation when a
// report completes, and a single compare-and-close when the machine is fixed.
package breakdown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/breakdown/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyClosed is returned by TryClose when the record exists but was
	// closed earlier, possibly by a concurrent caller.
	ErrAlreadyClosed = errors.New("breakdown: already closed")
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("breakdown: not found")
)

// NewBreakdown holds the fields collected by a completed report flow.
type NewBreakdown struct {
	MachineName  string
	Reason       string
	PhotoRef     string
	ReporterID   string
	ReporterName string
}

// Store persists breakdown records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("breakdown: store: db is required")
	}
	return &Store{db: db}, nil
}

// Create inserts a new open record and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, nb NewBreakdown) (*models.Breakdown, error) {
	rec := &models.Breakdown{
		MachineName:  nb.MachineName,
		Reason:       nb.Reason,
		PhotoRef:     nb.PhotoRef,
		ReporterID:   nb.ReporterID,
		ReporterName: nb.ReporterName,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("breakdown: create: %w", err)
	}
	return rec, nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id uint) (*models.Breakdown, error) {
	var rec models.Breakdown
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("breakdown: get %d: %w", id, err)
	}
	return &rec, nil
}

// ListOpen returns a snapshot of all open records in creation order.
func (s *Store) ListOpen(ctx context.Context) ([]models.Breakdown, error) {
	return s.List(ctx, false)
}

// List returns records in creation order. Closed records are included only
// when includeClosed is set.
func (s *Store) List(ctx context.Context, includeClosed bool) ([]models.Breakdown, error) {
	q := s.db.WithContext(ctx).Order("id")
	if !includeClosed {
		q = q.Where("fixed_at IS NULL")
	}
	var recs []models.Breakdown
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("breakdown: list: %w", err)
	}
	return recs, nil
}

// TryClose closes the record if, and only if, it is still open. The check and
// the write are one conditional UPDATE, so among concurrent callers on the
// same id exactly one succeeds; the rest get ErrAlreadyClosed. An unknown id
// yields ErrNotFound and touches nothing.
func (s *Store) TryClose(ctx context.Context, id uint, closedAt time.Time, closedBy string) (*models.Breakdown, error) {
	var rec models.Breakdown
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Breakdown{}).
			Where("id = ? AND fixed_at IS NULL", id).
			Updates(map[string]interface{}{
				"fixed_at": closedAt,
				"fixed_by": closedBy,
			})
		if result.Error != nil {
			return fmt.Errorf("close: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Breakdown{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("check existing: %w", err)
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrAlreadyClosed
		}

		if err := tx.First(&rec, id).Error; err != nil {
			return fmt.Errorf("reload: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyClosed) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("breakdown: try close %d: %w", id, err)
	}
	return &rec, nil
}

// SetPhotoURL records the archived photo link. It only fills an empty value,
// so the link is written at most once.
func (s *Store) SetPhotoURL(ctx context.Context, id uint, url string) error {
	result := s.db.WithContext(ctx).Model(&models.Breakdown{}).
		Where("id = ? AND (photo_url = '' OR photo_url IS NULL)", id).
		Update("photo_url", url)
	if result.Error != nil {
		return fmt.Errorf("breakdown: set photo url %d: %w", id, result.Error)
	}
	return nil
}
