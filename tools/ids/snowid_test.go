package ids

import (
	"sync"
	"testing"
	"time"
)

func TestGeneratorUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator(7)
	const workers, per = 8, 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
}

func TestGeneratorEncodesNode(t *testing.T) {
	g := NewGenerator(42)
	id := g.Next()
	if node := (id >> 12) & 0x3FF; node != 42 {
		t.Fatalf("expected node 42 encoded, got %d", node)
	}
}

func TestGeneratorRejectsOutOfRangeNode(t *testing.T) {
	for _, node := range []int64{-1, MaxNodeID + 1, 5000} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewGenerator(%d) should panic", node)
				}
			}()
			NewGenerator(node)
		}()
	}
	for _, node := range []int64{0, MaxNodeID} {
		if got := NewGenerator(node).NodeID(); got != node {
			t.Errorf("NodeID() = %d, want %d", got, node)
		}
	}
}

func TestGeneratorClockSkew(t *testing.T) {
	g := NewGenerator(1)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	first := g.Next()
	g.now = func() time.Time { return base.Add(-time.Second) }
	second := g.Next()
	if second <= first {
		t.Fatalf("ids must keep increasing across clock skew: %d then %d", first, second)
	}
}
