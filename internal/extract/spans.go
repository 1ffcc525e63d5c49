// Package extract reads candidate place spans produced by the upstream
// segmenter and extractor.
package extract

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ppiankov/placemaster/internal/model"
)

// Format is a span file format
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatTSV   Format = "tsv"
)

const maxLineSize = 1 << 20

// FormatFor picks the format from the file extension. Unknown extensions are read as JSONL.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab", ".txt":
		return FormatTSV
	default:
		return FormatJSONL
	}
}

// ReadSpans reads spans from a JSONL or TSV file
func ReadSpans(path string) ([]model.Span, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var spans []model.Span
	switch FormatFor(path) {
	case FormatTSV:
		spans, err = ParseTSV(file)
	default:
		spans, err = ParseJSONL(file)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spans, nil
}

// ParseJSONL reads one JSON span object per line
func ParseJSONL(r io.Reader) ([]model.Span, error) {
	var spans []model.Span
	seen := make(map[string]bool)

	err := scanLines(r, func(lineNo int, line string) error {
		var span model.Span
		if err := json.Unmarshal([]byte(line), &span); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := checkSpan(span); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		spans = appendUnique(spans, seen, span)
		return nil
	})
	return spans, err
}

// ParseTSV reads tab separated spans:
// span_id, text, start, end[, context[, method[, confidence]]]
func ParseTSV(r io.Reader) ([]model.Span, error) {
	var spans []model.Span
	seen := make(map[string]bool)

	err := scanLines(r, func(lineNo int, line string) error {
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return fmt.Errorf("line %d: expected at least 4 columns, got %d", lineNo, len(fields))
		}
		// Optional header
		if lineNo == 1 && fields[0] == "span_id" {
			return nil
		}

		start, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return fmt.Errorf("line %d: start: %w", lineNo, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(fields[3]))
		if err != nil {
			return fmt.Errorf("line %d: end: %w", lineNo, err)
		}

		span := model.Span{
			SpanID: strings.TrimSpace(fields[0]),
			Text:   fields[1],
			Start:  start,
			End:    end,
		}
		if len(fields) > 4 {
			span.Context = fields[4]
		}
		if len(fields) > 5 {
			span.Method = strings.TrimSpace(fields[5])
		}
		if len(fields) > 6 && strings.TrimSpace(fields[6]) != "" {
			conf, err := strconv.ParseFloat(strings.TrimSpace(fields[6]), 64)
			if err != nil {
				return fmt.Errorf("line %d: confidence: %w", lineNo, err)
			}
			span.Confidence = &conf
		}

		if err := checkSpan(span); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		spans = appendUnique(spans, seen, span)
		return nil
	})
	return spans, err
}

// SpanKey identifies a span occurrence for deduplication
func SpanKey(s model.Span) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%d", s.SpanID, s.Text, s.Start, s.End)
}

func scanLines(r io.Reader, fn func(lineNo int, line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		// Skip empty lines and comments
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan file: %w", err)
	}
	return nil
}

func checkSpan(s model.Span) error {
	switch {
	case strings.TrimSpace(s.SpanID) == "":
		return fmt.Errorf("missing span_id")
	case strings.TrimSpace(s.Text) == "":
		return fmt.Errorf("missing text")
	case s.Start < 0 || s.End < s.Start:
		return fmt.Errorf("bad position [%d,%d)", s.Start, s.End)
	}
	return nil
}

func appendUnique(spans []model.Span, seen map[string]bool, s model.Span) []model.Span {
	key := SpanKey(s)
	if seen[key] {
		return spans
	}
	seen[key] = true
	return append(spans, s)
}
