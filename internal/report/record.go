package report

import (
	"errors"
	"fmt"
	"math"
)

// ShortIDModulus keeps the low four decimal digits of a node identifier
const ShortIDModulus = 10000

// ErrInvalidConfidence is returned when a confidence score lies outside [0,1]
var ErrInvalidConfidence = errors.New("confidence must be within [0,1]")

// Record describes one captured and classified picture.
// Values are immutable once constructed; use New to build one.
type Record struct {
	origin      uint32
	destination uint32
	shortID     uint32
	sequence    uint32
	confidence  float64
}

// New builds a record for a picture taken by origin and addressed to destination.
// The short identifier is derived from origin.
func New(origin, destination, sequence uint32, confidence float64) (Record, error) {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Record{}, fmt.Errorf("%w: got %v", ErrInvalidConfidence, confidence)
	}

	return Record{
		origin:      origin,
		destination: destination,
		shortID:     ShortID(origin),
		sequence:    sequence,
		confidence:  confidence,
	}, nil
}

// ShortID returns the low four decimal digits of a node identifier,
// used for human readable artifact names
func ShortID(nodeID uint32) uint32 {
	return nodeID % ShortIDModulus
}

// Origin returns the node that took the picture
func (r Record) Origin() uint32 { return r.origin }

// Destination returns the collection node the record is addressed to
func (r Record) Destination() uint32 { return r.destination }

// ShortID returns the short form of the origin identifier
func (r Record) ShortID() uint32 { return r.shortID }

// Sequence returns the persisted picture number
func (r Record) Sequence() uint32 { return r.sequence }

// Confidence returns the classifier score
func (r Record) Confidence() float64 { return r.confidence }

// FileName returns the picture artifact name, e.g. "4242_17.jpg"
func (r Record) FileName() string {
	return PictureName(r.shortID, r.sequence)
}

// PictureName formats the artifact name for a short identifier and sequence number
func PictureName(shortID, sequence uint32) string {
	return fmt.Sprintf("%d_%d.jpg", shortID, sequence)
}

// String implements fmt.Stringer for log output
func (r Record) String() string {
	return r.FileName()
}
