// Package record persists accepted traceroute samples.
//
// A Sink receives one Record per accepted relay-topology sample. File sinks
// append across runs: the CSV header is written only when the file is new
// or empty.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kabili207/lnatest/core/route"
)

// Format selects the on-disk representation of a record file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown output format")

// Columns are the record fields in output order. They name the CSV header
// and the JSON keys.
var Columns = []string{
	"timestamp",
	"cycle",
	"phase",
	"route",
	"snr_towards_1_room_roof",
	"snr_towards_2_roof_mtn",
	"snr_back_1_mtn_roof",
	"snr_back_2_roof_room",
}

// Record is one accepted traceroute sample. SNR values are in dB; nil means
// the response did not carry that hop.
type Record struct {
	Timestamp time.Time
	Cycle     int
	Phase     string
	Route     []uint32

	// Towards: local->roof, roof->mountain. Back: mountain->roof, roof->local.
	SNRTowardsRoomRoof *float64
	SNRTowardsRoofMtn  *float64
	SNRBackMtnRoof     *float64
	SNRBackRoofRoom    *float64
}

// Sink receives records.
type Sink interface {
	Append(r Record) error
	Close() error
}

// Open creates a file sink for path in the given format.
func Open(path string, format Format) (Sink, error) {
	switch format {
	case FormatCSV, "":
		return NewCSV(path), nil
	case FormatJSON:
		return NewJSON(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// fields renders r as strings in Columns order. Missing readings are empty.
func (r Record) fields() []string {
	return []string{
		r.Timestamp.Local().Format(time.RFC3339),
		strconv.Itoa(r.Cycle),
		r.Phase,
		route.Format(r.Route),
		formatSNR(r.SNRTowardsRoomRoof),
		formatSNR(r.SNRTowardsRoofMtn),
		formatSNR(r.SNRBackMtnRoof),
		formatSNR(r.SNRBackRoofRoom),
	}
}

func formatSNR(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Multi fans records out to several sinks. Append and Close visit every
// sink and join their errors.
type Multi []Sink

func (m Multi) Append(r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append(Record) error { return nil }
func (discard) Close() error        { return nil }
