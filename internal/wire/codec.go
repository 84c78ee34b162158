// Package wire converts report records to and from the structured JSON
// packages carried over the mesh.
//
// A report package looks like:
//
//	{"type":31,"from":4242,"dest":3177562153,"shortId":4242,"seq":17,"confidence":0.87}
//
// Decoding is strict: every field must be present with the right numeric
// kind, otherwise the package is rejected. Integer fields accept any
// integral JSON number within 32 bits, so 17, 17.0 and 1.7e1 are the same
// sequence number.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/stone-age-io/fieldnode/internal/report"
	"github.com/tidwall/gjson"
)

// TypeReport is the package type tag for report records.
// Tags below 30 are reserved for the mesh's own control packages.
const TypeReport = 31

// Field names of a report package
const (
	FieldType       = "type"
	FieldFrom       = "from"
	FieldDest       = "dest"
	FieldShortID    = "shortId"
	FieldSequence   = "seq"
	FieldConfidence = "confidence"
)

// ErrInvalidMessage is returned for any package that fails validation
var ErrInvalidMessage = errors.New("invalid report package")

// longest encoding/json rendering of a float64, e.g. -1.2345678901234567e-308
const maxFloatChars = 24

// overhead is every byte of a report package except the values themselves
var overhead = len(`{"":,"":,"":,"":,"":,"":}`) +
	len(FieldType) + len(FieldFrom) + len(FieldDest) +
	len(FieldShortID) + len(FieldSequence) + len(FieldConfidence)

type reportPackage struct {
	Type       int     `json:"type"`
	From       uint32  `json:"from"`
	Dest       uint32  `json:"dest"`
	ShortID    uint32  `json:"shortId"`
	Sequence   uint32  `json:"seq"`
	Confidence float64 `json:"confidence"`
}

// Encode serializes a record into a report package
func Encode(r report.Record) ([]byte, error) {
	// room for the encoder's trailing newline
	buf := bytes.NewBuffer(make([]byte, 0, SizeHint(r)+1))
	err := json.NewEncoder(buf).Encode(reportPackage{
		Type:       TypeReport,
		From:       r.Origin(),
		Dest:       r.Destination(),
		ShortID:    r.ShortID(),
		Sequence:   r.Sequence(),
		Confidence: r.Confidence(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode report %s: %w", r, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SizeHint returns an upper bound of the encoded size of r. Encode uses it to
// size its buffer; it is never smaller than len(Encode(r)).
func SizeHint(r report.Record) int {
	return overhead +
		digits(TypeReport) +
		digits(r.Origin()) +
		digits(r.Destination()) +
		digits(r.ShortID()) +
		digits(r.Sequence()) +
		maxFloatChars
}

// PackageType returns the type tag of an inbound package
func PackageType(data []byte) (int, error) {
	if !gjson.ValidBytes(data) {
		return 0, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}
	tag, err := uintField(data, FieldType)
	if err != nil {
		return 0, err
	}
	return int(tag), nil
}

// Decode reconstructs a record from a report package
func Decode(data []byte) (report.Record, error) {
	tag, err := PackageType(data)
	if err != nil {
		return report.Record{}, err
	}
	if tag != TypeReport {
		return report.Record{}, fmt.Errorf("%w: type %d is not a report", ErrInvalidMessage, tag)
	}

	from, err := uintField(data, FieldFrom)
	if err != nil {
		return report.Record{}, err
	}
	dest, err := uintField(data, FieldDest)
	if err != nil {
		return report.Record{}, err
	}
	shortID, err := uintField(data, FieldShortID)
	if err != nil {
		return report.Record{}, err
	}
	seq, err := uintField(data, FieldSequence)
	if err != nil {
		return report.Record{}, err
	}

	conf := gjson.GetBytes(data, FieldConfidence)
	if !conf.Exists() {
		return report.Record{}, fmt.Errorf("%w: missing %q", ErrInvalidMessage, FieldConfidence)
	}
	if conf.Type != gjson.Number {
		return report.Record{}, fmt.Errorf("%w: %q is not a number", ErrInvalidMessage, FieldConfidence)
	}

	if shortID != report.ShortID(from) {
		return report.Record{}, fmt.Errorf("%w: %q %d does not match origin %d",
			ErrInvalidMessage, FieldShortID, shortID, from)
	}

	rec, err := report.New(from, dest, seq, conf.Num)
	if err != nil {
		return report.Record{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return rec, nil
}

// uintField reads a required non-negative integer field that fits in 32 bits
func uintField(data []byte, name string) (uint32, error) {
	res := gjson.GetBytes(data, name)
	if !res.Exists() {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidMessage, name)
	}
	if res.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidMessage, name)
	}
	if v, err := strconv.ParseUint(res.Raw, 10, 32); err == nil {
		return uint32(v), nil
	}
	// 17.0 or 1.7e1 from encoders that write every number as a float
	if res.Num != math.Trunc(res.Num) || res.Num < 0 || res.Num > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %q is not an unsigned 32-bit integer: %s", ErrInvalidMessage, name, res.Raw)
	}
	return uint32(res.Num), nil
}

func digits(v uint32) int {
	n := 1
	for v >= 10 {
		v /= 10
		n++
	}
	return n
}
