package model

import (
	"time"

	"gorm.io/datatypes"
)

// ValidationStatus is the curation state of a master place
type ValidationStatus string

const (
	StatusPending   ValidationStatus = "pending"   // Created, not confirmed by the validation oracle
	StatusValidated ValidationStatus = "validated" // Oracle accepted with high confidence
	StatusRejected  ValidationStatus = "rejected"  // Curated out, never a resolution target
)

// Valid reports whether s is a known status
func (s ValidationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusValidated, StatusRejected:
		return true
	}
	return false
}

// ParseValidationStatus converts user input to a ValidationStatus
func ParseValidationStatus(s string) (ValidationStatus, bool) {
	status := ValidationStatus(s)
	return status, status.Valid()
}

// MasterPlace is the canonical deduplicated record for a real-world place
type MasterPlace struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	NormalizedName string `gorm:"size:255;not null;uniqueIndex" json:"normalized_name"` // Lookup key, unique
	DisplayName    string `gorm:"size:255;not null" json:"display_name"`                // First raw form seen
	CanonicalName  string `gorm:"size:255" json:"canonical_name,omitempty"`

	Latitude            *float64   `json:"latitude,omitempty"`
	Longitude           *float64   `json:"longitude,omitempty"`
	GeocodingSource     string     `gorm:"size:64" json:"geocoding_source,omitempty"`
	GeocodingConfidence *float64   `json:"geocoding_confidence,omitempty"`
	GeocodingTimestamp  *time.Time `json:"geocoding_timestamp,omitempty"`

	PlaceType    string `gorm:"size:64;index" json:"place_type,omitempty"`
	Prefecture   string `gorm:"size:64" json:"prefecture,omitempty"`
	Municipality string `gorm:"size:128" json:"municipality,omitempty"`
	District     string `gorm:"size:128" json:"district,omitempty"`

	UsageCount  int64      `gorm:"not null" json:"usage_count"` // Equals the number of distinct mentions
	FirstUsedAt *time.Time `json:"first_used_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`

	ValidationStatus ValidationStatus `gorm:"size:16;not null;index" json:"validation_status"`

	// Opaque passthrough data, never inspected by resolution
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the gorm table name
func (MasterPlace) TableName() string { return "place_masters" }

// HasCoordinates reports whether geocoding has been attached
func (m *MasterPlace) HasCoordinates() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// Geocode carries the fields attached to a master after a successful geocoding call
type Geocode struct {
	Latitude     float64
	Longitude    float64
	Confidence   float64
	Source       string
	At           time.Time
	PlaceType    string
	Prefecture   string
	Municipality string
	District     string
}

// AliasType classifies an alternate name
type AliasType string

const (
	AliasVariant    AliasType = "variant"    // Alternate spelling or reading
	AliasHistorical AliasType = "historical" // Former name (e.g. Edo)
	AliasColloquial AliasType = "colloquial" // Informal form
)

// Valid reports whether t is a known alias type
func (t AliasType) Valid() bool {
	switch t {
	case AliasVariant, AliasHistorical, AliasColloquial:
		return true
	}
	return false
}

// Alias is an alternate name that resolves to exactly one master
type Alias struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	MasterID   string    `gorm:"size:36;not null;index;uniqueIndex:idx_alias_master_name" json:"master_id"`
	AliasName  string    `gorm:"size:255;not null;uniqueIndex:idx_alias_master_name" json:"alias_name"`
	AliasKey   string    `gorm:"size:255;not null;uniqueIndex" json:"alias_key"` // Normalized form, unique across masters
	AliasType  AliasType `gorm:"size:32;not null" json:"alias_type"`
	Confidence float64   `gorm:"not null" json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName overrides the gorm table name
func (Alias) TableName() string { return "place_aliases" }
