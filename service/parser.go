package service

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kwv/gcransac/ransac"
)

// ParseCorrespondenceFile reads a correspondence file. Files ending in .json are parsed
// as JSON, everything else as whitespace-separated "x1 y1 x2 y2" lines.
func ParseCorrespondenceFile(path string) (*ransac.CorrespondenceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseCorrespondenceJSON(data)
	}
	return ParseCorrespondenceText(bytes.NewReader(data))
}

// ParseCorrespondenceText parses one correspondence per line. Blank lines and lines
// starting with # are skipped; columns after the fourth are ignored.
func ParseCorrespondenceText(r io.Reader) (*ransac.CorrespondenceSet, error) {
	var rows [][4]float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: expected 4 values, got %d", line, len(fields))
		}
		var row [4]float64
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading correspondences: %w", err)
	}
	return ransac.CorrespondencesFromRows(rows)
}

// correspondenceDocument is the JSON object form: {"correspondences": [[x1, y1, x2, y2], ...]}
type correspondenceDocument struct {
	Correspondences [][4]float64 `json:"correspondences"`
}

// ParseCorrespondenceJSON accepts either a bare array of [x1, y1, x2, y2] rows or an
// object holding them under "correspondences".
func ParseCorrespondenceJSON(data []byte) (*ransac.CorrespondenceSet, error) {
	trimmed := bytes.TrimSpace(data)
	var rows [][4]float64
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	} else {
		var doc correspondenceDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
		rows = doc.Correspondences
	}
	return ransac.CorrespondencesFromRows(rows)
}

// WriteCorrespondenceText writes the set in the line format read by ParseCorrespondenceText
func WriteCorrespondenceText(w io.Writer, set *ransac.CorrespondenceSet) error {
	bw := bufio.NewWriter(w)
	for _, r := range set.Rows() {
		if _, err := fmt.Fprintf(bw, "%g %g %g %g\n", r[0], r[1], r[2], r[3]); err != nil {
			return fmt.Errorf("writing correspondences: %w", err)
		}
	}
	return bw.Flush()
}
