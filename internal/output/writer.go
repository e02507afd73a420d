package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gustycube/skywatch/internal/emit"
)

// Format represents the snapshot encoding
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ParseFormat accepts json, jsonl/ndjson and csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

var csvHeader = []string{"id", "category", "status", "place", "lat", "lng", "label", "updated_at", "expire_at", "reports"}

// WriteRecords encodes a full snapshot to w.
func WriteRecords(w io.Writer, f Format, records []emit.Record) error {
	switch f {
	case FormatJSON:
		if records == nil {
			records = []emit.Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)

	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, r := range records {
			place := ""
			if r.Location != nil {
				place = r.Location.Name
			}
			if err := cw.Write([]string{
				r.ID,
				string(r.Category),
				string(r.Status),
				place,
				strconv.FormatFloat(r.Lat, 'f', 5, 64),
				strconv.FormatFloat(r.Lng, 'f', 5, 64),
				r.Label,
				r.UpdatedAt.UTC().Format(time.RFC3339),
				r.ExpireAt.UTC().Format(time.RFC3339),
				strconv.Itoa(len(r.History)),
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("unsupported format: %s", f)
}
