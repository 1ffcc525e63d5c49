package model

import "time"

// Mention records one occurrence of a place name inside a source span
type Mention struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	SpanID      string `gorm:"size:128;not null;uniqueIndex:idx_mention_triple" json:"span_id"`
	MasterID    string `gorm:"size:36;not null;index;uniqueIndex:idx_mention_triple" json:"master_id"`
	MatchedText string `gorm:"size:255;not null;uniqueIndex:idx_mention_triple" json:"matched_text"`

	StartPosition int `json:"start_position"`
	EndPosition   int `json:"end_position"`

	ExtractionConfidence *float64 `json:"extraction_confidence,omitempty"`
	ExtractionMethod     string   `gorm:"size:64" json:"extraction_method,omitempty"`

	Verified               bool       `gorm:"not null" json:"verified"`
	VerificationConfidence *float64   `json:"verification_confidence,omitempty"`
	VerificationTimestamp  *time.Time `json:"verification_timestamp,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the gorm table name
func (Mention) TableName() string { return "place_mentions" }

// Position is the offset range of a matched text within its span
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ExtractionMeta describes how the upstream extractor found a mention
type ExtractionMeta struct {
	Confidence *float64 `json:"confidence,omitempty"`
	Method     string   `json:"method,omitempty"`
}

// Verification is the result of a context check attached to a mention
type Verification struct {
	Verified   bool
	Confidence float64
	At         time.Time
}

// Span is one extracted candidate supplied by the upstream segmenter
type Span struct {
	SpanID     string   `json:"span_id"`              // Source sentence identifier
	Text       string   `json:"text"`                 // Matched raw place text
	Start      int      `json:"start"`                // Offset of Text within the sentence
	End        int      `json:"end"`                  // End offset (exclusive)
	Context    string   `json:"context,omitempty"`    // Surrounding sentence
	Method     string   `json:"method,omitempty"`     // Extraction method (e.g. ginza, regex)
	Confidence *float64 `json:"confidence,omitempty"` // Extraction confidence
}

// Position returns the span offsets
func (s Span) Position() Position {
	return Position{Start: s.Start, End: s.End}
}

// Meta returns the span extraction provenance
func (s Span) Meta() ExtractionMeta {
	return ExtractionMeta{Confidence: s.Confidence, Method: s.Method}
}
