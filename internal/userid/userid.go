package userid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Prefix starts every issued identifier.
	Prefix = "NF-"
	// MaxSequence is the last sequence number a period can issue.
	MaxSequence = 999
)

// Allocator issues unique per-period user identifiers.
type Allocator interface {
	Allocate(ctx context.Context, period Period) (string, error)
	Current(ctx context.Context, period Period) (int, error)
}

// Period is the calendar month an identifier belongs to.
type Period struct {
	Month time.Month
	Year  int
}

// PeriodOf returns the UTC calendar period containing t.
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Month: u.Month(), Year: u.Year()}
}

// Key renders the period as MMYYYY, the counter row key.
func (p Period) Key() string {
	return fmt.Sprintf("%02d%04d", int(p.Month), p.Year)
}

func (p Period) valid() bool {
	return p.Month >= time.January && p.Month <= time.December && p.Year >= 1000 && p.Year <= 9999
}

// Format builds the identifier for a sequence within a period.
func Format(p Period, seq int) string {
	return fmt.Sprintf("%s%s%03d", Prefix, p.Key(), seq)
}

// Parse splits an identifier back into its period and sequence.
func Parse(id string) (Period, int, error) {
	rest, ok := strings.CutPrefix(id, Prefix)
	if !ok || len(rest) != 9 {
		return Period{}, 0, fmt.Errorf("invalid user id %q", id)
	}
	month, err := strconv.Atoi(rest[0:2])
	if err != nil {
		return Period{}, 0, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	year, err := strconv.Atoi(rest[2:6])
	if err != nil {
		return Period{}, 0, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	seq, err := strconv.Atoi(rest[6:9])
	if err != nil {
		return Period{}, 0, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	p := Period{Month: time.Month(month), Year: year}
	if !p.valid() || seq < 1 || seq > MaxSequence {
		return Period{}, 0, fmt.Errorf("invalid user id %q", id)
	}
	return p, seq, nil
}

// Stats summarises counter usage for a period.
type Stats struct {
	Period       string `json:"period"`
	CurrentCount int    `json:"current_count"`
	Remaining    int    `json:"remaining"`
	Limit        int    `json:"limit"`
	IsFull       bool   `json:"is_full"`
}

// PeriodStats reads the counter for period and reports remaining capacity.
func PeriodStats(ctx context.Context, a Allocator, period Period) (Stats, error) {
	current, err := a.Current(ctx, period)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Period:       period.Key(),
		CurrentCount: current,
		Remaining:    MaxSequence - current,
		Limit:        MaxSequence,
		IsFull:       current >= MaxSequence,
	}, nil
}
