// Package counter keeps the restart-surviving picture sequence number.
package counter

import (
	"errors"
	"fmt"
	"math"
)

// ErrNonSequential is returned when Advance is asked to skip or repeat a value
var ErrNonSequential = errors.New("counter must advance by exactly one")

// ErrExhausted is returned when the counter has reached its largest value.
// Wrapping to zero would reuse picture names.
var ErrExhausted = errors.New("sequence counter exhausted")

// Store is the persistent byte-store holding the counter.
// Write stages a value; it only becomes durable after Commit.
type Store interface {
	Read() (uint32, error)
	Write(value uint32) error
	Commit() error
}

// Counter is the sequence number of the last successfully persisted picture.
// It is read from the store once, when opened.
type Counter struct {
	store Store
	value uint32
}

// Open reads the current value from store. A blank store reads as zero.
func Open(store Store) (*Counter, error) {
	value, err := store.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence counter: %w", err)
	}
	return &Counter{store: store, value: value}, nil
}

// Value returns the last durable sequence number
func (c *Counter) Value() uint32 {
	return c.value
}

// Next returns the candidate number for the next picture without consuming
// it. It is only meaningful while Exhausted reports false.
func (c *Counter) Next() uint32 {
	return c.value + 1
}

// Exhausted reports whether the counter can no longer advance
func (c *Counter) Exhausted() bool {
	return c.value == math.MaxUint32
}

// Advance durably moves the counter to value, which must equal Next().
// The in-memory value only changes once the store has committed.
func (c *Counter) Advance(value uint32) error {
	if c.Exhausted() {
		return fmt.Errorf("%w: at %d", ErrExhausted, c.value)
	}
	if value != c.Next() {
		return fmt.Errorf("%w: at %d, asked for %d", ErrNonSequential, c.value, value)
	}
	if err := c.store.Write(value); err != nil {
		return fmt.Errorf("failed to write sequence counter: %w", err)
	}
	if err := c.store.Commit(); err != nil {
		return fmt.Errorf("failed to commit sequence counter: %w", err)
	}
	c.value = value
	return nil
}
