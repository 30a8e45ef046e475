package playlist

import (
	"errors"
	"fmt"
	"testing"

	"watchsync/internal/media"
)

func item(n int) media.Item {
	return media.Item{URL: fmt.Sprintf("https://v.example/%d", n), Duration: 60}
}

func urls(p *Playlist) []string {
	out := make([]string, 0, p.Len())
	for _, it := range p.Items() {
		out = append(out, it.URL)
	}
	return out
}

func filled(t *testing.T, n int) *Playlist {
	t.Helper()
	p := New(10)
	for i := 1; i <= n; i++ {
		if !p.Insert(item(i), true) {
			t.Fatalf("setup: insert %d failed", i)
		}
	}
	return p
}

func assertInvariant(t *testing.T, p *Playlist) {
	t.Helper()
	if err := p.CheckInvariant(); err != nil {
		t.Fatalf("invariant broken: %v", err)
	}
}

func TestNew_defaults(t *testing.T) {
	p := New(0)
	if p.MaxSize() != DefaultMaxSize {
		t.Errorf("expected max size %d, got %d", DefaultMaxSize, p.MaxSize())
	}
	if !p.IsOpen() || p.Len() != 0 || p.Pos() != 0 {
		t.Errorf("unexpected initial state %+v", p.State())
	}
	if _, err := p.Current(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange on empty Current, got %v", err)
	}
}

func TestInsert(t *testing.T) {
	t.Run("at_end", func(t *testing.T) {
		p := filled(t, 3)
		if got := urls(p); got[2] != item(3).URL {
			t.Errorf("unexpected order %v", got)
		}
	})

	t.Run("after_current", func(t *testing.T) {
		p := filled(t, 3)
		p.SetPos(1)
		p.Insert(item(9), false)
		got := urls(p)
		if got[2] != item(9).URL || p.Len() != 4 || p.Pos() != 1 {
			t.Errorf("expected item after current, got %v pos=%d", got, p.Pos())
		}
	})

	t.Run("duplicate_is_noop", func(t *testing.T) {
		p := filled(t, 2)
		before := p.State()
		if p.Insert(item(1), true) {
			t.Error("duplicate insert reported added")
		}
		if p.Len() != len(before.Items) {
			t.Errorf("duplicate changed length to %d", p.Len())
		}
	})

	t.Run("full_is_noop", func(t *testing.T) {
		p := New(2)
		p.Insert(item(1), true)
		p.Insert(item(2), true)
		if p.Insert(item(3), true) {
			t.Error("insert into full playlist reported added")
		}
		if p.Len() != 2 || !p.IsFull() {
			t.Errorf("expected full playlist of 2, got %d", p.Len())
		}
	})
}

func TestRemoveAt(t *testing.T) {
	t.Run("before_current_decrements_pos", func(t *testing.T) {
		p := filled(t, 4)
		p.SetPos(2)
		p.RemoveAt(0)
		cur, _ := p.Current()
		if p.Pos() != 1 || cur.URL != item(3).URL {
			t.Errorf("expected current to stay item 3 at pos 1, got %s pos=%d", cur.URL, p.Pos())
		}
		assertInvariant(t, p)
	})

	t.Run("after_current_keeps_pos", func(t *testing.T) {
		p := filled(t, 4)
		p.SetPos(1)
		p.RemoveAt(3)
		if p.Pos() != 1 || p.Len() != 3 {
			t.Errorf("unexpected state %v pos=%d", urls(p), p.Pos())
		}
	})

	t.Run("last_current_clamps_to_zero", func(t *testing.T) {
		p := filled(t, 3)
		p.SetPos(2)
		p.RemoveAt(2)
		if p.Pos() != 0 {
			t.Errorf("expected pos clamped to 0, got %d", p.Pos())
		}
		assertInvariant(t, p)
	})

	t.Run("only_item", func(t *testing.T) {
		p := filled(t, 1)
		p.RemoveAt(0)
		if p.Len() != 0 || p.Pos() != 0 {
			t.Errorf("expected empty, got %v pos=%d", urls(p), p.Pos())
		}
	})

	t.Run("out_of_range_ignored", func(t *testing.T) {
		p := filled(t, 2)
		p.RemoveAt(5)
		p.RemoveAt(-1)
		if p.Len() != 2 {
			t.Errorf("expected unchanged playlist, got %v", urls(p))
		}
	})
}

func TestSkip(t *testing.T) {
	t.Run("middle", func(t *testing.T) {
		p := filled(t, 3)
		if p.Skip() {
			t.Error("skip from first of three should not wrap")
		}
		cur, _ := p.Current()
		if cur.URL != item(2).URL || p.Pos() != 0 {
			t.Errorf("expected item 2 current, got %s", cur.URL)
		}
	})

	t.Run("last_wraps", func(t *testing.T) {
		p := filled(t, 3)
		p.SetPos(2)
		if !p.Skip() {
			t.Error("skip of last item should wrap")
		}
		if p.Pos() != 0 || p.Len() != 2 {
			t.Errorf("expected pos 0 of 2, got pos=%d len=%d", p.Pos(), p.Len())
		}
	})

	t.Run("single_item_empties", func(t *testing.T) {
		p := filled(t, 1)
		if !p.Skip() {
			t.Error("skip of only item should report wrapped")
		}
		if p.Len() != 0 || p.Pos() != 0 {
			t.Errorf("expected empty with pos 0, got len=%d pos=%d", p.Len(), p.Pos())
		}
		assertInvariant(t, p)
	})

	t.Run("empty", func(t *testing.T) {
		p := New(5)
		if !p.Skip() {
			t.Error("skip of empty playlist should report wrapped")
		}
	})
}

func TestSetNext(t *testing.T) {
	t.Run("moves_after_current", func(t *testing.T) {
		p := filled(t, 4)
		if err := p.SetNext(3); err != nil {
			t.Fatal(err)
		}
		got := urls(p)
		want := []string{item(1).URL, item(4).URL, item(2).URL, item(3).URL}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	})

	t.Run("item_before_current_shifts_pos", func(t *testing.T) {
		p := filled(t, 4)
		p.SetPos(2)
		if err := p.SetNext(0); err != nil {
			t.Fatal(err)
		}
		cur, _ := p.Current()
		if cur.URL != item(3).URL || p.Pos() != 1 {
			t.Errorf("expected current item 3 at pos 1, got %s pos=%d", cur.URL, p.Pos())
		}
		next, _ := p.At(p.Pos() + 1)
		if next.URL != item(1).URL {
			t.Errorf("expected item 1 next, got %s", next.URL)
		}
		assertInvariant(t, p)
	})

	t.Run("out_of_range", func(t *testing.T) {
		p := filled(t, 2)
		if err := p.SetNext(7); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("expected ErrOutOfRange, got %v", err)
		}
	})
}

func TestShuffle_keeps_current_first(t *testing.T) {
	p := filled(t, 8)
	p.SetPos(5)
	want, _ := p.Current()
	p.Shuffle()
	cur, _ := p.Current()
	if p.Pos() != 0 || cur.URL != want.URL {
		t.Errorf("expected %s pinned at 0, got %s pos=%d", want.URL, cur.URL, p.Pos())
	}
	if p.Len() != 8 {
		t.Errorf("shuffle changed length to %d", p.Len())
	}
	seen := map[string]bool{}
	for _, u := range urls(p) {
		seen[u] = true
	}
	if len(seen) != 8 {
		t.Errorf("shuffle lost or duplicated items: %v", urls(p))
	}
}

func TestClear_keeps_open_flag(t *testing.T) {
	p := filled(t, 3)
	p.SetOpen(false)
	p.Clear()
	if p.Len() != 0 || p.Pos() != 0 || p.IsOpen() {
		t.Errorf("unexpected state after clear %+v", p.State())
	}
}

func TestIndexOf(t *testing.T) {
	p := filled(t, 3)
	if i := p.IndexOf(media.SameURL(item(2).URL)); i != 1 {
		t.Errorf("expected index 1, got %d", i)
	}
	if p.Contains(media.SameURL("https://missing")) {
		t.Error("missing url reported present")
	}
}

func TestState_is_a_copy(t *testing.T) {
	p := filled(t, 2)
	st := p.State()
	st.Items[0].URL = "mutated"
	if cur, _ := p.Current(); cur.URL == "mutated" {
		t.Error("State exposed internal slice")
	}
}

func TestRestore(t *testing.T) {
	p := New(3)
	p.Restore(State{
		Items:  []media.Item{item(1), item(1), item(2), item(3), item(4)},
		Pos:    9,
		IsOpen: false,
	})
	if p.Len() != 3 {
		t.Errorf("expected duplicates and overflow dropped, got %v", urls(p))
	}
	if p.Pos() != 0 || p.IsOpen() {
		t.Errorf("expected pos clamped and lock kept, got pos=%d open=%v", p.Pos(), p.IsOpen())
	}
	assertInvariant(t, p)
}

func TestCheckInvariant_detects_bad_pos(t *testing.T) {
	p := filled(t, 2)
	p.st.Pos = 4
	if err := p.CheckInvariant(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if _, err := p.Current(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected Current to surface ErrInvalidState, got %v", err)
	}
}
