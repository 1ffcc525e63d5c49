package model

import "time"

// UsageStats summarizes the master store for reporting
type UsageStats struct {
	TotalMasters  int64            `json:"total_masters" yaml:"total_masters"`
	Geocoded      int64            `json:"geocoded" yaml:"geocoded"`
	Validated     int64            `json:"validated" yaml:"validated"`
	Pending       int64            `json:"pending" yaml:"pending"`
	Rejected      int64            `json:"rejected" yaml:"rejected"`
	TotalUsage    int64            `json:"total_usage" yaml:"total_usage"` // Sum of usage_count
	TotalMentions int64            `json:"total_mentions" yaml:"total_mentions"`
	TotalAliases  int64            `json:"total_aliases" yaml:"total_aliases"`
	PlaceTypes    map[string]int64 `json:"place_types,omitempty" yaml:"place_types,omitempty"`
	GeneratedAt   time.Time        `json:"generated_at" yaml:"generated_at"`
}

// GeocodingRate is the share of masters carrying coordinates (0-1)
func (s UsageStats) GeocodingRate() float64 {
	if s.TotalMasters == 0 {
		return 0
	}
	return float64(s.Geocoded) / float64(s.TotalMasters)
}
