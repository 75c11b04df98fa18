package userid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/novafi/novafi/internal/domain"
)

func TestFormatAndParse(t *testing.T) {
	p := Period{Month: time.March, Year: 2025}
	id := Format(p, 1)
	if id != "NF-032025001" {
		t.Fatalf("expected NF-032025001, got %s", id)
	}

	got, seq, err := Parse("NF-012025999")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Month != time.January || got.Year != 2025 || seq != 999 {
		t.Fatalf("unexpected parse result %+v seq=%d", got, seq)
	}

	for _, bad := range []string{"", "NF-", "XX-012025001", "NF-132025001", "NF-012025000", "NF-01202500a"} {
		if _, _, err := Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestPeriodOfUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 01:00 on April 1st at UTC+3 is still March in UTC.
	p := PeriodOf(time.Date(2025, time.April, 1, 1, 0, 0, 0, loc))
	if p.Key() != "032025" {
		t.Fatalf("expected 032025, got %s", p.Key())
	}
}

func TestMemoryAllocatorConcurrentUnique(t *testing.T) {
	a := NewMemoryAllocator()
	ctx := context.Background()
	p := Period{Month: time.June, Year: 2025}

	const n = 200
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Allocate(ctx, p)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(ids))
	}
	for i := 1; i <= n; i++ {
		want := fmt.Sprintf("NF-062025%03d", i)
		if _, ok := ids[want]; !ok {
			t.Fatalf("missing %s", want)
		}
	}
}

func TestMemoryAllocatorCapacity(t *testing.T) {
	a := NewMemoryAllocator()
	ctx := context.Background()
	p := Period{Month: time.January, Year: 2025}
	a.Seed(p, 998)

	id, err := a.Allocate(ctx, p)
	if err != nil {
		t.Fatalf("999th allocation: %v", err)
	}
	if id != "NF-012025999" {
		t.Fatalf("expected NF-012025999, got %s", id)
	}

	if _, err := a.Allocate(ctx, p); !errors.Is(err, domain.ErrCapacityExhausted) {
		t.Fatalf("expected capacity exhausted, got %v", err)
	}

	// The next period is unaffected.
	next, err := a.Allocate(ctx, Period{Month: time.February, Year: 2025})
	if err != nil {
		t.Fatalf("next period: %v", err)
	}
	if next != "NF-022025001" {
		t.Fatalf("expected NF-022025001, got %s", next)
	}
}

func TestPeriodStats(t *testing.T) {
	a := NewMemoryAllocator()
	p := Period{Month: time.May, Year: 2025}
	a.Seed(p, 999)

	stats, err := PeriodStats(context.Background(), a, p)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.IsFull || stats.Remaining != 0 || stats.Period != "052025" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
