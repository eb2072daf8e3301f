package main

import (
	"errors"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %d", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %d", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %d", got)
	}
}

func TestRecorderCountsFailures(t *testing.T) {
	r := newRecorder(4)
	r.add(3*time.Millisecond, nil)
	r.add(time.Millisecond, errors.New("x"))
	s := r.stats(time.Second)
	if s.ops != 2 || s.failures != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.p50 != time.Millisecond {
		t.Fatalf("samples must be sorted, p50=%s", s.p50)
	}
}
