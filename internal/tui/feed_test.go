package tui

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestFeed_Last(t *testing.T) {
	f := NewFeed(3)
	if got := f.Last(5); got != nil {
		t.Errorf("empty feed Last() = %v, want nil", got)
	}

	for i := 0; i < 5; i++ {
		f.ObserveLine("Master", fmt.Sprintf("l%d", i))
	}

	got := f.Last(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"l2", "l3", "l4"} {
		if got[i].Text != want {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Text, want)
		}
	}

	if two := f.Last(2); two[0].Text != "l3" || two[1].Text != "l4" {
		t.Errorf("Last(2) = %v", two)
	}
	if f.Seq() != 5 {
		t.Errorf("Seq() = %d, want 5", f.Seq())
	}
}

func TestFeed_Classifies(t *testing.T) {
	f := NewFeed(0)
	f.ObserveLine("Caves", "[Warning] Could not find anim")
	f.ObserveLine("Caves", "Sim paused")

	got := f.Last(2)
	if !got[0].Problem || got[1].Problem {
		t.Errorf("Problem flags = %v, %v; want true, false", got[0].Problem, got[1].Problem)
	}
	if got[0].Shard != "Caves" || got[0].At.IsZero() {
		t.Errorf("line not tagged: %+v", got[0])
	}
}

func TestFeed_Truncates(t *testing.T) {
	f := NewFeed(1)
	f.ObserveLine("Master", strings.Repeat("x", 10_000))
	if got := f.Last(1)[0].Text; !strings.HasSuffix(got, "...(truncated)") {
		t.Errorf("long line not truncated: len %d", len(got))
	}
}

func TestFeed_Concurrent(t *testing.T) {
	f := NewFeed(64)
	var wg sync.WaitGroup
	for _, shard := range []string{"Caves", "Master"} {
		wg.Add(1)
		go func(shard string) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				f.ObserveLine(shard, "line")
			}
		}(shard)
	}
	wg.Wait()

	if f.Seq() != 2000 {
		t.Errorf("Seq() = %d, want 2000", f.Seq())
	}
	if len(f.Last(100)) != 64 {
		t.Errorf("Last(100) length = %d, want 64", len(f.Last(100)))
	}
}
