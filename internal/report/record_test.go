package report

import (
	"errors"
	"math"
	"testing"
)

// TestNew tests record construction and field derivation
func TestNew(t *testing.T) {
	rec, err := New(3177554242, 3177562153, 17, 0.87)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if rec.Origin() != 3177554242 {
		t.Errorf("Origin() = %d, want %d", rec.Origin(), uint32(3177554242))
	}
	if rec.Destination() != 3177562153 {
		t.Errorf("Destination() = %d, want %d", rec.Destination(), uint32(3177562153))
	}
	if rec.ShortID() != 4242 {
		t.Errorf("ShortID() = %d, want 4242", rec.ShortID())
	}
	if rec.Sequence() != 17 {
		t.Errorf("Sequence() = %d, want 17", rec.Sequence())
	}
	if rec.Confidence() != 0.87 {
		t.Errorf("Confidence() = %v, want 0.87", rec.Confidence())
	}
}

// TestNewConfidenceBounds tests that out-of-range scores are rejected
func TestNewConfidenceBounds(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantErr    bool
	}{
		{name: "zero", confidence: 0, wantErr: false},
		{name: "one", confidence: 1, wantErr: false},
		{name: "threshold", confidence: 0.5, wantErr: false},
		{name: "negative", confidence: -0.01, wantErr: true},
		{name: "above one", confidence: 1.01, wantErr: true},
		{name: "NaN", confidence: math.NaN(), wantErr: true},
		{name: "infinity", confidence: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(1, 2, 3, tt.confidence)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfidence) {
				t.Errorf("New() error = %v, want ErrInvalidConfidence", err)
			}
		})
	}
}

// TestFileName tests artifact naming
func TestFileName(t *testing.T) {
	tests := []struct {
		name   string
		origin uint32
		seq    uint32
		want   string
	}{
		{name: "four digit id", origin: 4242, seq: 17, want: "4242_17.jpg"},
		{name: "long id keeps low digits", origin: 3177562153, seq: 1, want: "2153_1.jpg"},
		{name: "leading zeros dropped", origin: 1230007, seq: 5, want: "7_5.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := New(tt.origin, 0, tt.seq, 0.5)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := rec.FileName(); got != tt.want {
				t.Errorf("FileName() = %q, want %q", got, tt.want)
			}
			if got := rec.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
