package store

import (
	"context"
	"fmt"

	"github.com/ppiankov/placemaster/internal/model"
)

// UsageStats aggregates counts across masters, aliases and mentions
func (s *Store) UsageStats(ctx context.Context) (*model.UsageStats, error) {
	db := s.db.WithContext(ctx)
	stats := &model.UsageStats{
		PlaceTypes:  make(map[string]int64),
		GeneratedAt: s.now(),
	}

	counts := []func() error{
		func() error { return db.Model(&model.MasterPlace{}).Count(&stats.TotalMasters).Error },
		func() error {
			return db.Model(&model.MasterPlace{}).Where("latitude IS NOT NULL").Count(&stats.Geocoded).Error
		},
		func() error { return db.Model(&model.Mention{}).Count(&stats.TotalMentions).Error },
		func() error { return db.Model(&model.Alias{}).Count(&stats.TotalAliases).Error },
	}
	for _, count := range counts {
		if err := count(); err != nil {
			return nil, fmt.Errorf("usage stats: %w", err)
		}
	}

	var byStatus []struct {
		ValidationStatus model.ValidationStatus
		N                int64
	}
	err := db.Model(&model.MasterPlace{}).
		Select("validation_status, COUNT(*) AS n").
		Group("validation_status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, fmt.Errorf("usage stats by status: %w", err)
	}
	for _, row := range byStatus {
		switch row.ValidationStatus {
		case model.StatusPending:
			stats.Pending = row.N
		case model.StatusValidated:
			stats.Validated = row.N
		case model.StatusRejected:
			stats.Rejected = row.N
		}
	}

	var total struct{ Total int64 }
	if err := db.Model(&model.MasterPlace{}).Select("COALESCE(SUM(usage_count), 0) AS total").Scan(&total).Error; err != nil {
		return nil, fmt.Errorf("usage stats total: %w", err)
	}
	stats.TotalUsage = total.Total

	var byType []struct {
		PlaceType string
		N         int64
	}
	err = db.Model(&model.MasterPlace{}).
		Select("place_type, COUNT(*) AS n").
		Where("place_type IS NOT NULL AND place_type <> ''").
		Group("place_type").
		Scan(&byType).Error
	if err != nil {
		return nil, fmt.Errorf("usage stats by type: %w", err)
	}
	for _, row := range byType {
		stats.PlaceTypes[row.PlaceType] = row.N
	}

	return stats, nil
}
