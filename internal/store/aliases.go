package store

import (
	"context"
	"fmt"

	"github.com/ppiankov/placemaster/internal/model"
)

// FindAliasByKey returns the alias whose normalized key equals key
func (s *Store) FindAliasByKey(ctx context.Context, key string) (*model.Alias, error) {
	var a model.Alias
	if err := s.db.WithContext(ctx).Where("alias_key = ?", key).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// CreateAlias inserts a new alias. A taken alias key returns ErrConflict.
func (s *Store) CreateAlias(ctx context.Context, a *model.Alias) error {
	if a.AliasKey == "" || a.MasterID == "" {
		return fmt.Errorf("create alias: master id and key are required")
	}
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.AliasType == "" {
		a.AliasType = model.AliasVariant
	}

	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		if translated := translate(err); translated == ErrConflict {
			return ErrConflict
		}
		return fmt.Errorf("create alias %q: %w", a.AliasName, err)
	}
	return nil
}

// ListAliases returns the aliases owned by a master
func (s *Store) ListAliases(ctx context.Context, masterID string) ([]model.Alias, error) {
	var aliases []model.Alias
	err := s.db.WithContext(ctx).
		Where("master_id = ?", masterID).
		Order("created_at ASC").Order("id ASC").
		Find(&aliases).Error
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	return aliases, nil
}
