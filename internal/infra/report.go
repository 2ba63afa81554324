package infra

import (
	"encoding/json"
	"fmt"
)

// WriteReport writes v as indented JSON to dir/<stem>.json. An existing file
// is never overwritten; the name gets a -N suffix instead.
func WriteReport(dir, stem string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	path, err := writeUnique(dir, stem, ".json", data, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
