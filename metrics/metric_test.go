package metrics

import "testing"

func TestCounter_IncAndAdd(t *testing.T) {
	c := NewCounter("trie.commits")
	if c.Value() != 0 {
		t.Fatalf("initial value = %d, want 0", c.Value())
	}
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("value = %d, want 5", c.Value())
	}
	// Negative adds must be ignored (counters are monotonic).
	c.Add(-5)
	if c.Value() != 5 {
		t.Fatalf("value after negative add = %d, want 5 unchanged", c.Value())
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	g := NewGauge("trie.node_count")
	g.Set(100)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 99 {
		t.Fatalf("value = %d, want 99", g.Value())
	}
}

func TestHistogram_Observe(t *testing.T) {
	h := NewHistogram("trie.commit.duration_ms")
	if h.Count() != 0 || h.Mean() != 0 {
		t.Fatalf("empty histogram should report zero count and mean")
	}
	h.Observe(10)
	h.Observe(20)
	h.Observe(30)
	if h.Count() != 3 {
		t.Fatalf("count = %d, want 3", h.Count())
	}
	if h.Sum() != 60 {
		t.Fatalf("sum = %v, want 60", h.Sum())
	}
	if h.Min() != 10 || h.Max() != 30 {
		t.Fatalf("min/max = %v/%v, want 10/30", h.Min(), h.Max())
	}
	if h.Mean() != 20 {
		t.Fatalf("mean = %v, want 20", h.Mean())
	}
}

func TestTimer_Stop(t *testing.T) {
	h := NewHistogram("bal.recorder.build.account_count")
	timer := NewTimer(h)
	timer.Stop()
	if h.Count() != 1 {
		t.Fatalf("expected one observation recorded, got %d", h.Count())
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	c1 := r.Counter("state.pipeline.applies")
	c2 := r.Counter("state.pipeline.applies")
	if c1 != c2 {
		t.Fatal("Counter should return the same instance for the same name")
	}
	c1.Inc()
	if r.Counter("state.pipeline.applies").Value() != 1 {
		t.Fatal("increments should be visible through either reference")
	}

	snap := r.Snapshot()
	if snap["state.pipeline.applies"] != int64(1) {
		t.Fatalf("snapshot[applies] = %v, want 1", snap["state.pipeline.applies"])
	}
}
