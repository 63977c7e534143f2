package queue

import (
	"testing"
	"time"
)

func TestBackoff_DoublesUntilCap(t *testing.T) {
	b := Backoff{Base: 200 * time.Millisecond, Max: 30 * time.Second}

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 200 * time.Millisecond}, // clamped to first retry
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{5, 3200 * time.Millisecond},
		{9, 30 * time.Second}, // 51.2s uncapped
		{20, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.retry); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}

func TestBackoff_JitterStaysBounded(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2}

	for retry := 1; retry <= 10; retry++ {
		for i := 0; i < 50; i++ {
			got := b.Delay(retry)
			if got < b.Base {
				t.Fatalf("Delay(%d) = %v, below base %v", retry, got, b.Base)
			}
			limit := b.Max + time.Duration(0.2*float64(b.Max))
			if got > limit {
				t.Fatalf("Delay(%d) = %v, above jittered cap %v", retry, got, limit)
			}
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"create", "update", "delete"} {
		if _, err := ParseKind(valid); err != nil {
			t.Errorf("ParseKind(%q) unexpected error: %v", valid, err)
		}
	}
	if _, err := ParseKind("upsert"); err == nil {
		t.Error("ParseKind should reject unknown kinds")
	}
}
