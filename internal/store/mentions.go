package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ppiankov/placemaster/internal/model"
)

// RecordMention inserts m and bumps the owning master's usage in one transaction.
// An existing (span_id, master_id, matched_text) row is returned instead, with created=false
// and no usage change.
func (s *Store) RecordMention(ctx context.Context, m *model.Mention, at time.Time) (id string, created bool, err error) {
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	if m.ID == "" {
		m.ID = s.newID()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner model.MasterPlace
		if err := tx.Select("id").Where("id = ?", m.MasterID).First(&owner).Error; err != nil {
			return translate(err)
		}

		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "span_id"},
				{Name: "master_id"},
				{Name: "matched_text"},
			},
			DoNothing: true,
		}).Create(m)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return ErrConflict
			}
			return fmt.Errorf("insert mention: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			existing, err := findMention(tx, m.SpanID, m.MasterID, m.MatchedText)
			if err != nil {
				return err
			}
			id, created = existing.ID, false
			return nil
		}

		err := tx.Model(&model.MasterPlace{}).
			Where("id = ?", m.MasterID).
			Updates(map[string]interface{}{
				"usage_count":   gorm.Expr("usage_count + ?", 1),
				"first_used_at": gorm.Expr("COALESCE(first_used_at, ?)", at),
				"last_used_at":  gorm.Expr("CASE WHEN last_used_at IS NULL OR last_used_at < ? THEN ? ELSE last_used_at END", at, at),
			}).Error
		if err != nil {
			return fmt.Errorf("bump usage: %w", err)
		}
		id, created = m.ID, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

// FindMention returns the mention identified by its natural key
func (s *Store) FindMention(ctx context.Context, spanID, masterID, matchedText string) (*model.Mention, error) {
	return findMention(s.db.WithContext(ctx), spanID, masterID, matchedText)
}

func findMention(db *gorm.DB, spanID, masterID, matchedText string) (*model.Mention, error) {
	var m model.Mention
	err := db.Where("span_id = ? AND master_id = ? AND matched_text = ?", spanID, masterID, matchedText).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// GetMention returns a mention by id
func (s *Store) GetMention(ctx context.Context, id string) (*model.Mention, error) {
	var m model.Mention
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// AttachVerification stores a context verification result on a mention
func (s *Store) AttachVerification(ctx context.Context, mentionID string, v model.Verification) error {
	at := v.At
	if at.IsZero() {
		at = s.now()
	}
	res := s.db.WithContext(ctx).
		Model(&model.Mention{}).
		Where("id = ?", mentionID).
		Updates(map[string]interface{}{
			"verified":                v.Verified,
			"verification_confidence": v.Confidence,
			"verification_timestamp":  at.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("attach verification to %s: %w", mentionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMentions returns the mentions referencing a master, oldest first
func (s *Store) ListMentions(ctx context.Context, masterID string, limit int) ([]model.Mention, error) {
	q := s.db.WithContext(ctx).
		Where("master_id = ?", masterID).
		Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var mentions []model.Mention
	if err := q.Find(&mentions).Error; err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	return mentions, nil
}

// CountMentions returns the number of mentions referencing a master
func (s *Store) CountMentions(ctx context.Context, masterID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Mention{}).Where("master_id = ?", masterID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count mentions: %w", err)
	}
	return n, nil
}
