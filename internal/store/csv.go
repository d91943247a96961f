package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadMode selects how LoadCSV applies parsed readings.
type LoadMode int

const (
	// ModeAppend upserts the parsed readings into the existing history.
	ModeAppend LoadMode = iota
	// ModeReplace swaps the whole history for the parsed readings.
	ModeReplace
)

var csvHeader = []string{"timestamp", "systolic", "diastolic"}

// LoadCSV reads "timestamp,systolic,diastolic" rows (header required) and
// writes them to s. Nothing is written when any row is malformed.
func LoadCSV(ctx context.Context, s Store, r io.Reader, mode LoadMode) (int, error) {
	rs, err := ParseCSV(r)
	if err != nil {
		return 0, err
	}

	switch mode {
	case ModeReplace:
		err = s.ReplaceAll(ctx, rs)
	case ModeAppend:
		err = s.InsertMany(ctx, rs)
	default:
		return 0, fmt.Errorf("unknown load mode %d", mode)
	}
	if err != nil {
		return 0, err
	}
	return len(rs), nil
}

// ParseCSV parses readings, reporting malformed rows with their line number.
func ParseCSV(r io.Reader) ([]Reading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	for i, name := range csvHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return nil, fmt.Errorf("csv: unexpected header %q, want %q", strings.Join(header, ","), strings.Join(csvHeader, ","))
		}
	}

	var out []Reading
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad timestamp %q", line, rec[0])
		}
		sys, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad systolic %q", line, rec[1])
		}
		dia, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad diastolic %q", line, rec[2])
		}
		out = append(out, Reading{Timestamp: ts, Systolic: sys, Diastolic: dia})
	}
	return out, nil
}
