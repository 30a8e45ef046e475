package playlist

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"watchsync/internal/media"
)

// DefaultMaxSize is used when New is given a non-positive capacity.
const DefaultMaxSize = 50

var (
	// ErrOutOfRange is returned for an index outside the list.
	ErrOutOfRange = errors.New("playlist index out of range")

	// ErrInvalidState means the position does not point into a non-empty
	// list. It indicates a bug in this package or its caller, not bad input.
	ErrInvalidState = errors.New("playlist position invalid")
)

// State is the full row of a playlist. Mutations always replace it as a whole.
type State struct {
	Items  []media.Item `json:"items"`
	Pos    int          `json:"pos"`
	IsOpen bool         `json:"is_open"`
}

// Playlist is an ordered, bounded list of items with a current position.
// It is not safe for concurrent use; its owner serializes access.
type Playlist struct {
	maxSize int
	st      State
}

// New returns an empty, open playlist holding at most maxSize items.
func New(maxSize int) *Playlist {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Playlist{maxSize: maxSize, st: State{IsOpen: true}}
}

func (p *Playlist) Len() int        { return len(p.st.Items) }
func (p *Playlist) Pos() int        { return p.st.Pos }
func (p *Playlist) IsOpen() bool    { return p.st.IsOpen }
func (p *Playlist) MaxSize() int    { return p.maxSize }
func (p *Playlist) IsFull() bool    { return len(p.st.Items) >= p.maxSize }
func (p *Playlist) SetOpen(ok bool) { p.replace(p.st.Items, p.st.Pos, ok) }

// Current returns the item at the current position.
func (p *Playlist) Current() (media.Item, error) {
	if err := p.CheckInvariant(); err != nil {
		return media.Item{}, err
	}
	if len(p.st.Items) == 0 {
		return media.Item{}, fmt.Errorf("current item of empty playlist: %w", ErrOutOfRange)
	}
	return p.st.Items[p.st.Pos], nil
}

// At returns the item at index.
func (p *Playlist) At(index int) (media.Item, error) {
	if index < 0 || index >= len(p.st.Items) {
		return media.Item{}, fmt.Errorf("item %d of %d: %w", index, len(p.st.Items), ErrOutOfRange)
	}
	return p.st.Items[index], nil
}

// Items returns a copy of the items in order.
func (p *Playlist) Items() []media.Item {
	out := make([]media.Item, len(p.st.Items))
	copy(out, p.st.Items)
	return out
}

// Contains reports whether any item satisfies pred.
func (p *Playlist) Contains(pred func(media.Item) bool) bool {
	return p.IndexOf(pred) >= 0
}

// IndexOf returns the index of the first item satisfying pred, or -1.
func (p *Playlist) IndexOf(pred func(media.Item) bool) int {
	for i, it := range p.st.Items {
		if pred(it) {
			return i
		}
	}
	return -1
}

// Insert adds item at the end or right after the current position. It
// returns false when the playlist is full or already holds the URL.
func (p *Playlist) Insert(item media.Item, atEnd bool) bool {
	if p.IsFull() || p.Contains(media.SameURL(item.URL)) {
		return false
	}
	items := p.Items()
	if atEnd || len(items) == 0 {
		items = append(items, item)
	} else {
		at := p.st.Pos + 1
		items = append(items[:at], append([]media.Item{item}, items[at:]...)...)
	}
	p.replace(items, p.st.Pos, p.st.IsOpen)
	return true
}

// RemoveAt deletes the item at index; out-of-range indexes are ignored.
func (p *Playlist) RemoveAt(index int) {
	if index < 0 || index >= len(p.st.Items) {
		return
	}
	pos := p.st.Pos
	if index < pos {
		pos--
	}
	items := p.Items()
	items = append(items[:index], items[index+1:]...)
	if len(items) > 0 && pos >= len(items) {
		pos = 0
	}
	p.replace(items, pos, p.st.IsOpen)
}

// SetNext moves the item at index so it plays after the current one.
func (p *Playlist) SetNext(index int) error {
	if index < 0 || index >= len(p.st.Items) {
		return fmt.Errorf("set next %d of %d: %w", index, len(p.st.Items), ErrOutOfRange)
	}
	items := p.Items()
	pos := p.st.Pos
	item := items[index]
	items = append(items[:index], items[index+1:]...)
	if index < pos {
		pos--
	}
	at := pos + 1
	if at > len(items) {
		at = len(items)
	}
	items = append(items[:at], append([]media.Item{item}, items[at:]...)...)
	p.replace(items, pos, p.st.IsOpen)
	return nil
}

// SetPos jumps to index, clamping invalid values to the first item.
func (p *Playlist) SetPos(index int) {
	if index < 0 || index >= len(p.st.Items) {
		index = 0
	}
	p.replace(p.st.Items, index, p.st.IsOpen)
}

// Skip removes the current item. It reports wrapped when the list emptied
// or the position ran off the end and was reset to the first item.
func (p *Playlist) Skip() (wrapped bool) {
	if len(p.st.Items) == 0 {
		return true
	}
	pos := p.st.Pos
	if pos < 0 || pos >= len(p.st.Items) {
		pos = 0
	}
	items := p.Items()
	items = append(items[:pos], items[pos+1:]...)
	if pos >= len(items) {
		pos = 0
		wrapped = true
	}
	p.replace(items, pos, p.st.IsOpen)
	return wrapped
}

// Clear empties the playlist.
func (p *Playlist) Clear() {
	p.replace(nil, 0, p.st.IsOpen)
}

// Shuffle randomizes every item except the current one, which moves to the front.
func (p *Playlist) Shuffle() {
	if len(p.st.Items) <= 1 {
		return
	}
	items := p.Items()
	cur := items[p.st.Pos]
	rest := append(items[:p.st.Pos:p.st.Pos], items[p.st.Pos+1:]...)
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	p.replace(append([]media.Item{cur}, rest...), 0, p.st.IsOpen)
}

// CheckInvariant returns ErrInvalidState if the position is outside a non-empty list.
func (p *Playlist) CheckInvariant() error {
	n := len(p.st.Items)
	if n == 0 {
		if p.st.Pos != 0 {
			return fmt.Errorf("pos %d on empty list: %w", p.st.Pos, ErrInvalidState)
		}
		return nil
	}
	if p.st.Pos < 0 || p.st.Pos >= n {
		return fmt.Errorf("pos %d of %d: %w", p.st.Pos, n, ErrInvalidState)
	}
	return nil
}

// State returns a copy of the whole row.
func (p *Playlist) State() State {
	return State{Items: p.Items(), Pos: p.st.Pos, IsOpen: p.st.IsOpen}
}

// Restore replaces the row with st, dropping duplicates and overflow and clamping the position.
func (p *Playlist) Restore(st State) {
	items := make([]media.Item, 0, len(st.Items))
	seen := make(map[string]bool, len(st.Items))
	for _, it := range st.Items {
		if seen[it.URL] || len(items) >= p.maxSize {
			continue
		}
		seen[it.URL] = true
		items = append(items, it)
	}
	pos := st.Pos
	if pos < 0 || pos >= len(items) {
		pos = 0
	}
	p.replace(items, pos, st.IsOpen)
}

func (p *Playlist) replace(items []media.Item, pos int, open bool) {
	if len(items) == 0 {
		items = nil
		pos = 0
	}
	p.st = State{Items: items, Pos: pos, IsOpen: open}
}
