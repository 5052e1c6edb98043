package aggregator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/dose/pkg/history"
)

func record(outcome history.Outcome, d time.Duration) *history.Record {
	return &history.Record{
		Command:   "make test",
		Dir:       "/src",
		Outcome:   outcome,
		Duration:  d,
		StartedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local),
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	agg := New(Config{})
	if agg == nil {
		t.Fatal("New() returned nil")
	}

	stats := agg.Stats()
	if stats.Count != 0 || stats.PassRate != 0 {
		t.Errorf("empty Stats() = %+v", stats)
	}
}

func TestAdd_SingleRecord(t *testing.T) {
	t.Parallel()

	agg := New(Config{TrackPercentiles: true})
	agg.Add(record(history.OutcomeSuccess, 2*time.Second))

	stats := agg.Stats()
	if stats.Count != 1 {
		t.Errorf("Stats().Count = %d, want 1", stats.Count)
	}
	if stats.Successes != 1 {
		t.Errorf("Stats().Successes = %d, want 1", stats.Successes)
	}
	if stats.PassRate != 1.0 {
		t.Errorf("Stats().PassRate = %f, want 1.0", stats.PassRate)
	}
	if stats.AvgDuration != 2*time.Second {
		t.Errorf("Stats().AvgDuration = %v, want 2s", stats.AvgDuration)
	}
	if stats.MinDuration != 2*time.Second || stats.MaxDuration != 2*time.Second {
		t.Errorf("Stats() min/max = %v/%v, want 2s/2s", stats.MinDuration, stats.MaxDuration)
	}
	if stats.P50Duration != 2*time.Second {
		t.Errorf("Stats().P50Duration = %v, want 2s", stats.P50Duration)
	}
}

func TestAdd_Outcomes(t *testing.T) {
	t.Parallel()

	agg := New(Config{})
	agg.Add(record(history.OutcomeSuccess, 1*time.Second))
	agg.Add(record(history.OutcomeSuccess, 3*time.Second))
	agg.Add(record(history.OutcomeFailure, 2*time.Second))
	agg.Add(record(history.OutcomeKilled, 0))
	agg.Add(record(history.OutcomeAborted, 0))
	agg.Add(nil)

	stats := agg.Stats()
	if stats.Count != 5 {
		t.Errorf("Count = %d, want 5", stats.Count)
	}
	if stats.Successes != 2 || stats.Failures != 1 || stats.Killed != 1 || stats.Aborted != 1 {
		t.Errorf("outcome counts = %+v", stats)
	}
	if stats.Completed() != 3 {
		t.Errorf("Completed() = %d, want 3", stats.Completed())
	}
	if want := 2.0 / 3.0; stats.PassRate != want {
		t.Errorf("PassRate = %f, want %f", stats.PassRate, want)
	}
	// Killed and aborted runs do not count towards durations.
	if stats.AvgDuration != 2*time.Second {
		t.Errorf("AvgDuration = %v, want 2s", stats.AvgDuration)
	}
	if stats.MinDuration != time.Second || stats.MaxDuration != 3*time.Second {
		t.Errorf("min/max = %v/%v, want 1s/3s", stats.MinDuration, stats.MaxDuration)
	}
	if stats.P50Duration != 0 {
		t.Errorf("P50Duration = %v, want 0 without percentile tracking", stats.P50Duration)
	}
}

func TestFirstAndLastSeen(t *testing.T) {
	t.Parallel()

	agg := New(Config{})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{time.Hour, 0, 2 * time.Hour} {
		rec := record(history.OutcomeSuccess, time.Second)
		rec.StartedAt = base.Add(offset)
		agg.Add(rec)
	}
	agg.Add(&history.Record{Outcome: history.OutcomeKilled})

	stats := agg.Stats()
	if !stats.FirstSeen.Equal(base) {
		t.Errorf("FirstSeen = %v, want %v", stats.FirstSeen, base)
	}
	if !stats.LastSeen.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("LastSeen = %v, want %v", stats.LastSeen, base.Add(2*time.Hour))
	}
}

func TestGroupedStats_ByCommand(t *testing.T) {
	t.Parallel()

	agg := New(Config{GroupBy: []Dimension{DimCommand}})

	a := record(history.OutcomeSuccess, time.Second)
	b := record(history.OutcomeFailure, time.Second)
	b.Command = "pytest"
	agg.Add(a)
	agg.Add(a)
	agg.Add(b)

	grouped := agg.GroupedStats()
	if len(grouped) != 2 {
		t.Fatalf("got %d groups, want 2", len(grouped))
	}
	if grouped["make test"].Count != 2 {
		t.Errorf("make test Count = %d, want 2", grouped["make test"].Count)
	}
	if grouped["pytest"].PassRate != 0 {
		t.Errorf("pytest PassRate = %f, want 0", grouped["pytest"].PassRate)
	}
}

func TestGroupedStats_MultipleDimensions(t *testing.T) {
	t.Parallel()

	agg := New(Config{GroupBy: []Dimension{DimDir, DimOutcome}})
	agg.Add(record(history.OutcomeSuccess, time.Second))
	agg.Add(record(history.OutcomeKilled, 0))

	grouped := agg.GroupedStats()
	if _, ok := grouped["/src|success"]; !ok {
		t.Errorf("missing /src|success group in %v", grouped)
	}
	if _, ok := grouped["/src|killed"]; !ok {
		t.Errorf("missing /src|killed group in %v", grouped)
	}
}

func TestGroupedStats_ByDate(t *testing.T) {
	t.Parallel()

	agg := New(Config{GroupBy: []Dimension{DimDate}})

	first := record(history.OutcomeSuccess, time.Second)
	second := record(history.OutcomeSuccess, time.Second)
	second.StartedAt = first.StartedAt.Add(24 * time.Hour)
	agg.Add(first)
	agg.Add(second)

	grouped := agg.GroupedStats()
	if len(grouped) != 2 {
		t.Fatalf("got %d groups, want 2", len(grouped))
	}
	if _, ok := grouped["2024-05-01"]; !ok {
		t.Errorf("missing 2024-05-01 group in %v", grouped)
	}
}

func TestPercentiles(t *testing.T) {
	t.Parallel()

	agg := New(Config{TrackPercentiles: true})
	for i := 1; i <= 100; i++ {
		agg.Add(record(history.OutcomeSuccess, time.Duration(i)*time.Millisecond))
	}

	stats := agg.Stats()
	tests := []struct {
		name string
		got  time.Duration
		min  time.Duration
		max  time.Duration
	}{
		{"P50", stats.P50Duration, 49 * time.Millisecond, 52 * time.Millisecond},
		{"P95", stats.P95Duration, 94 * time.Millisecond, 97 * time.Millisecond},
		{"P99", stats.P99Duration, 98 * time.Millisecond, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if tt.got < tt.min || tt.got > tt.max {
			t.Errorf("%s = %v, want within [%v, %v]", tt.name, tt.got, tt.min, tt.max)
		}
	}
}

func TestPercentileEdges(t *testing.T) {
	t.Parallel()

	sorted := []time.Duration{1, 2, 3}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %v, want 0", got)
	}
	if got := percentile(sorted, 0); got != 1 {
		t.Errorf("percentile(0) = %v, want 1", got)
	}
	if got := percentile(sorted, 100); got != 3 {
		t.Errorf("percentile(100) = %v, want 3", got)
	}
	if got := percentile(sorted, 50); got != 2 {
		t.Errorf("percentile(50) = %v, want 2", got)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	agg := New(Config{GroupBy: []Dimension{DimCommand}})
	agg.Add(record(history.OutcomeSuccess, time.Second))
	agg.Reset()

	if stats := agg.Stats(); stats.Count != 0 {
		t.Errorf("Count after Reset = %d, want 0", stats.Count)
	}
	if grouped := agg.GroupedStats(); len(grouped) != 0 {
		t.Errorf("groups after Reset = %d, want 0", len(grouped))
	}
}

func TestConcurrency(t *testing.T) {
	t.Parallel()

	agg := New(Config{GroupBy: []Dimension{DimOutcome}, TrackPercentiles: true})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Add(record(history.OutcomeSuccess, time.Millisecond))
				_ = agg.Stats()
			}
		}()
	}
	wg.Wait()

	if stats := agg.Stats(); stats.Count != 1000 {
		t.Errorf("Count = %d, want 1000", stats.Count)
	}
}

func TestParseDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    []Dimension
		wantErr bool
	}{
		{"", nil, false},
		{"command", []Dimension{DimCommand}, false},
		{" Date , outcome", []Dimension{DimDate, DimOutcome}, false},
		{"dir,model", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseDimensions(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidDimension) {
				t.Errorf("ParseDimensions(%q) error = %v, want ErrInvalidDimension", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDimensions(%q) error = %v", tt.in, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParseDimensions(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseDimensions(%q)[%d] = %s, want %s", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}
