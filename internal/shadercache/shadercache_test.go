package shadercache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func fakeCompile(calls *atomic.Int32) CompileFunc {
	return func(src string) ([]uint32, error) {
		calls.Add(1)
		return []uint32{0x07230203, uint32(len(src))}, nil
	}
}

func TestGetOrCompile(t *testing.T) {
	c := New(4)
	var calls atomic.Int32

	words, hit, err := c.GetOrCompile("@compute fn main() {}", fakeCompile(&calls))
	if err != nil || hit {
		t.Fatalf("first lookup: hit=%v err=%v", hit, err)
	}
	if words[0] != 0x07230203 {
		t.Errorf("words[0] = %#x", words[0])
	}

	again, hit, err := c.GetOrCompile("@compute fn main() {}", fakeCompile(&calls))
	if err != nil || !hit {
		t.Fatalf("second lookup: hit=%v err=%v", hit, err)
	}
	if &again[0] != &words[0] {
		t.Error("cached words were not reused")
	}
	if calls.Load() != 1 {
		t.Errorf("compile called %d times, want 1", calls.Load())
	}

	st := c.Stats()
	if st.Len != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.HitRate() != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", st.HitRate())
	}
}

func TestCompileErrorNotCached(t *testing.T) {
	c := New(0)
	errBad := errors.New("unexpected token")
	fail := func(string) ([]uint32, error) { return nil, errBad }

	if _, _, err := c.GetOrCompile("fn", fail); !errors.Is(err, errBad) {
		t.Fatalf("GetOrCompile() = %v, want %v", err, errBad)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after a failed compile", c.Len())
	}
}

func TestEviction(t *testing.T) {
	const capacity = 2
	c := New(capacity)
	var calls atomic.Int32
	for i := range ShardCount * capacity * 4 {
		if _, _, err := c.GetOrCompile(fmt.Sprintf("// shader %d", i), fakeCompile(&calls)); err != nil {
			t.Fatal(err)
		}
	}
	st := c.Stats()
	if st.Len > ShardCount*capacity {
		t.Errorf("Len() = %d, want <= %d", st.Len, ShardCount*capacity)
	}
	if st.Evictions == 0 {
		t.Error("no evictions recorded")
	}
	if uint64(st.Len)+st.Evictions != uint64(calls.Load()) {
		t.Errorf("len %d + evictions %d != compiles %d", st.Len, st.Evictions, calls.Load())
	}
}

func TestRecentlyUsedSurvives(t *testing.T) {
	c := New(1)
	var calls atomic.Int32
	c.GetOrCompile("keep", fakeCompile(&calls))
	c.GetOrCompile("keep", fakeCompile(&calls))
	if _, hit, _ := c.GetOrCompile("keep", fakeCompile(&calls)); !hit {
		t.Error("entry was evicted without pressure")
	}
}

func TestClear(t *testing.T) {
	c := New(8)
	var calls atomic.Int32
	c.GetOrCompile("a", fakeCompile(&calls))
	c.GetOrCompile("b", fakeCompile(&calls))
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear", c.Len())
	}
	if _, hit, _ := c.GetOrCompile("a", fakeCompile(&calls)); hit {
		t.Error("hit after Clear")
	}
}

func TestConcurrentSameSource(t *testing.T) {
	c := New(0)
	var calls atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if _, _, err := c.GetOrCompile("shared", fakeCompile(&calls)); err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("compile called %d times, want 1", calls.Load())
	}
}

func TestLRUList(t *testing.T) {
	var l lruList
	a, b := l.pushFront(1), l.pushFront(2)
	l.pushFront(3)
	l.moveToFront(a)
	l.moveToFront(b)
	var got []uint64
	for {
		k, ok := l.removeOldest()
		if !ok {
			break
		}
		got = append(got, k)
	}
	if fmt.Sprint(got) != "[3 1 2]" {
		t.Errorf("eviction order = %v, want [3 1 2]", got)
	}
	if l.len != 0 || l.head != nil || l.tail != nil {
		t.Errorf("list not empty: %+v", l)
	}
}
