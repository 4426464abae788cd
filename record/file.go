package record

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kabili207/lnatest/core/route"
)

// CSVSink appends records to a CSV file. The file is opened on the first
// Append, so a run that accepts no samples leaves no file behind.
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// NewCSV returns a sink appending to path. The header row is written only
// if the file is absent or empty when first opened.
func NewCSV(path string) *CSVSink {
	return &CSVSink{path: path}
}

// Append writes one row and flushes it to the file.
func (s *CSVSink) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		f, empty, err := openAppend(s.path)
		if err != nil {
			return err
		}
		s.f, s.w = f, csv.NewWriter(f)
		if empty {
			if err := s.write(Columns); err != nil {
				// Retry the header on the next Append.
				f.Close()
				s.f, s.w = nil, nil
				return err
			}
		}
	}
	return s.write(r.fields())
}

func (s *CSVSink) write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Close closes the file if it was opened.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.w = nil, nil
	return err
}

// JSONSink appends records to a file as one JSON object per line, keyed by
// the CSV column names.
type JSONSink struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	path string
}

// jsonRecord is the line format written by JSONSink.
type jsonRecord struct {
	Timestamp          string   `json:"timestamp"`
	Cycle              int      `json:"cycle"`
	Phase              string   `json:"phase"`
	Route              string   `json:"route"`
	SNRTowardsRoomRoof *float64 `json:"snr_towards_1_room_roof"`
	SNRTowardsRoofMtn  *float64 `json:"snr_towards_2_roof_mtn"`
	SNRBackMtnRoof     *float64 `json:"snr_back_1_mtn_roof"`
	SNRBackRoofRoom    *float64 `json:"snr_back_2_roof_room"`
}

// MarshalJSON encodes the record in the JSON line format.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonRecord{
		Timestamp:          r.Timestamp.Local().Format(time.RFC3339),
		Cycle:              r.Cycle,
		Phase:              r.Phase,
		Route:              route.Format(r.Route),
		SNRTowardsRoomRoof: r.SNRTowardsRoomRoof,
		SNRTowardsRoofMtn:  r.SNRTowardsRoofMtn,
		SNRBackMtnRoof:     r.SNRBackMtnRoof,
		SNRBackRoofRoom:    r.SNRBackRoofRoom,
	})
}

// NewJSON returns a sink appending to path. Like CSVSink, the file is
// opened on the first Append.
func NewJSON(path string) *JSONSink {
	return &JSONSink{path: path}
}

// Append writes one line.
func (s *JSONSink) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		f, _, err := openAppend(s.path)
		if err != nil {
			return err
		}
		s.f, s.enc = f, json.NewEncoder(f)
	}
	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Close closes the file if it was opened.
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.enc = nil, nil
	return err
}

func openAppend(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	return f, info.Size() == 0, nil
}
