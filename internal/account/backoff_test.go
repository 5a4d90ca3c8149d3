package account

import (
	"testing"
	"time"
)

func TestBackoffBounds(t *testing.T) {
	bo := newBackoff(time.Second, 120*time.Second)

	ceiling := time.Second
	for i := 0; i < 20; i++ {
		d := bo.Next()
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", i, d)
		}
		if d > 120*time.Second {
			t.Fatalf("attempt %d: delay %v above cap", i, d)
		}
		if ceiling < 120*time.Second {
			if d > ceiling {
				t.Fatalf("attempt %d: delay %v above current ceiling %v", i, d, ceiling)
			}
			ceiling *= 2
		}
	}
}

func TestBackoffReset(t *testing.T) {
	bo := newBackoff(time.Second, 120*time.Second)
	for i := 0; i < 10; i++ {
		bo.Next()
	}
	bo.Reset()
	if d := bo.Next(); d > time.Second {
		t.Fatalf("delay after reset = %v, want <= base", d)
	}
}
