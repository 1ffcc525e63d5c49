package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ppiankov/placemaster/internal/model"
)

// FindMasterByKey returns the master whose normalized_name equals key
func (s *Store) FindMasterByKey(ctx context.Context, key string) (*model.MasterPlace, error) {
	var m model.MasterPlace
	if err := s.db.WithContext(ctx).Where("normalized_name = ?", key).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// GetMaster returns a master by id
func (s *Store) GetMaster(ctx context.Context, id string) (*model.MasterPlace, error) {
	var m model.MasterPlace
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// CreateMaster inserts m unless a master with the same normalized_name exists.
// A lost race returns ErrConflict and leaves the existing row untouched.
func (s *Store) CreateMaster(ctx context.Context, m *model.MasterPlace) error {
	if m.NormalizedName == "" {
		return fmt.Errorf("create master: empty normalized name")
	}
	if m.ID == "" {
		m.ID = s.newID()
	}
	if m.ValidationStatus == "" {
		m.ValidationStatus = model.StatusPending
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "normalized_name"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("create master %q: %w", m.NormalizedName, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// AttachGeocode sets coordinates and location metadata on a master that has none yet.
// It reports false when the master already carried coordinates.
func (s *Store) AttachGeocode(ctx context.Context, id string, g model.Geocode) (bool, error) {
	at := g.At
	if at.IsZero() {
		at = s.now()
	}
	updates := map[string]interface{}{
		"latitude":             g.Latitude,
		"longitude":            g.Longitude,
		"geocoding_source":     g.Source,
		"geocoding_confidence": g.Confidence,
		"geocoding_timestamp":  at,
	}
	if g.PlaceType != "" {
		updates["place_type"] = g.PlaceType
	}
	if g.Prefecture != "" {
		updates["prefecture"] = g.Prefecture
	}
	if g.Municipality != "" {
		updates["municipality"] = g.Municipality
	}
	if g.District != "" {
		updates["district"] = g.District
	}

	res := s.db.WithContext(ctx).
		Model(&model.MasterPlace{}).
		Where("id = ? AND latitude IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("attach geocode to %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetValidationStatus changes the curation state of a master
func (s *Store) SetValidationStatus(ctx context.Context, id string, status model.ValidationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid validation status %q", status)
	}
	res := s.db.WithContext(ctx).
		Model(&model.MasterPlace{}).
		Where("id = ?", id).
		Update("validation_status", status)
	if res.Error != nil {
		return fmt.Errorf("set status of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOptions filters ListMasters
type ListOptions struct {
	Limit  int
	Offset int
	Status model.ValidationStatus // Empty = any
}

// ListMasters returns masters ordered by usage, most used first
func (s *Store) ListMasters(ctx context.Context, opts ListOptions) ([]model.MasterPlace, error) {
	q := s.db.WithContext(ctx).Order("usage_count DESC").Order("created_at ASC").Order("id ASC")
	if opts.Status != "" {
		q = q.Where("validation_status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var masters []model.MasterPlace
	if err := q.Find(&masters).Error; err != nil {
		return nil, fmt.Errorf("list masters: %w", err)
	}
	return masters, nil
}

// UngeocodedMasters returns non-rejected masters still lacking coordinates, oldest first
func (s *Store) UngeocodedMasters(ctx context.Context, limit int) ([]model.MasterPlace, error) {
	q := s.db.WithContext(ctx).
		Where("latitude IS NULL AND validation_status <> ?", model.StatusRejected).
		Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var masters []model.MasterPlace
	if err := q.Find(&masters).Error; err != nil {
		return nil, fmt.Errorf("list ungeocoded masters: %w", err)
	}
	return masters, nil
}

// DeleteMaster removes a master together with its aliases and mentions
func (s *Store) DeleteMaster(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("master_id = ?", id).Delete(&model.Mention{}).Error; err != nil {
			return fmt.Errorf("delete mentions: %w", err)
		}
		if err := tx.Where("master_id = ?", id).Delete(&model.Alias{}).Error; err != nil {
			return fmt.Errorf("delete aliases: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.MasterPlace{})
		if res.Error != nil {
			return fmt.Errorf("delete master: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
