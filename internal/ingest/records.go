// Package ingest feeds face-extractor output through the clustering engine.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/kozaktomas/facesnap/internal/embedding"
)

// maxLineSize fits a 2048-dimensional embedding with room to spare.
const maxLineSize = 4 << 20

// Record is one detected face as emitted by the extractor, one JSON object per line.
type Record struct {
	ImageRef  string    `json:"image_ref"`
	Embedding []float64 `json:"embedding"`
	FaceIndex int       `json:"face_index,omitempty"`

	// Line is the 1-based input line the record was read from.
	Line int `json:"-"`
}

// Vector returns the record's embedding.
func (r Record) Vector() embedding.Vector {
	return embedding.Vector(r.Embedding)
}

// ReadRecords parses JSON Lines input. Blank lines are skipped.
func ReadRecords(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ImageRef == "" {
			return nil, fmt.Errorf("line %d: image_ref is required", line)
		}
		if len(rec.Embedding) == 0 {
			return nil, fmt.Errorf("line %d: embedding is required", line)
		}
		rec.Line = line
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("line %d: longer than %d bytes", line+1, maxLineSize)
		}
		return nil, fmt.Errorf("reading records: %w", err)
	}
	return records, nil
}
