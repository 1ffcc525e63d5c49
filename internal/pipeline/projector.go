package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ppiankov/placemaster/internal/model"
)

// masterRecord is the line written for each created master
type masterRecord struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name"`
	NormalizedName   string   `json:"normalized_name"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	Prefecture       string   `json:"prefecture,omitempty"`
	Municipality     string   `json:"municipality,omitempty"`
	ValidationStatus string   `json:"validation_status"`
	CreatedAt        string   `json:"created_at"`
}

// JSONLProjector writes each created master as one JSON line, e.g. for loading into a graph store
type JSONLProjector struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	count  int
}

// NewJSONLProjector writes to w. If w is an io.Closer it is closed by Close.
func NewJSONLProjector(w io.Writer) *JSONLProjector {
	p := &JSONLProjector{enc: json.NewEncoder(w)}
	p.enc.SetEscapeHTML(false)
	if c, ok := w.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// MasterCreated implements Projector
func (p *JSONLProjector) MasterCreated(_ context.Context, m *model.MasterPlace) error {
	rec := masterRecord{
		ID:               m.ID,
		DisplayName:      m.DisplayName,
		NormalizedName:   m.NormalizedName,
		Latitude:         m.Latitude,
		Longitude:        m.Longitude,
		Prefecture:       m.Prefecture,
		Municipality:     m.Municipality,
		ValidationStatus: string(m.ValidationStatus),
		CreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(rec); err != nil {
		return fmt.Errorf("write master %s: %w", m.ID, err)
	}
	p.count++
	return nil
}

// Count returns the number of masters written
func (p *JSONLProjector) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Close closes the underlying writer when it is closable
func (p *JSONLProjector) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
