// Package pagination buffers externally fetched pages of entries behind
// server-side cursors, so a client can page through upstream listings whose
// page size differs from the rendered one.
package pagination

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// Item is anything a cursor can buffer. Find targets match on Attr.
type Item interface {
	Attr(name string) (string, bool)
}

// FindTarget names an attribute value the caller wants located in the stream.
type FindTarget struct {
	Attr  string
	Value string
}

// ParseFindTarget parses "attr:value". Empty or malformed input reports false.
func ParseFindTarget(s string) (FindTarget, bool) {
	attr, value, ok := strings.Cut(s, ":")
	if !ok || attr == "" {
		return FindTarget{}, false
	}
	return FindTarget{Attr: attr, Value: value}, true
}

func (f FindTarget) String() string { return f.Attr + ":" + f.Value }

// Params seed a new cursor.
type Params struct {
	ID             string
	Page           int // first upstream page to fetch, 1-based
	PerPage        int
	Find           *FindTarget
	ContinuationID string
}

// Cursor is the pagination state of one logical request stream.
// It is driven by a single client at a time and needs no locking of its own.
type Cursor[T Item] struct {
	id             string
	Page           int // next upstream page to fetch
	PerPage        int
	ContinuationID string

	find     *FindTarget
	found    T
	hasFound bool
	data     []T
	done     bool

	retire func()
	revive func()
}

// NewCursor builds a cursor from p, applying defaults. It is not registered;
// use Registry.GetOrCreate for that.
func NewCursor[T Item](p Params) *Cursor[T] {
	w := engine.Window{Page: p.Page, PerPage: p.PerPage}.Normalize()
	return &Cursor[T]{
		id:             p.ID,
		Page:           w.Page,
		PerPage:        w.PerPage,
		ContinuationID: p.ContinuationID,
		find:           p.Find,
	}
}

// SessionID returns the cursor's registry key.
func (c *Cursor[T]) SessionID() string { return c.id }

func (c *Cursor[T]) bindRegistry(retire, revive func()) {
	c.retire, c.revive = retire, revive
}

// Window is the upstream slice the next fetch should cover.
func (c *Cursor[T]) Window() engine.Window {
	return c.WindowWith(c.PerPage)
}

// WindowWith is Window with a different upstream page size.
func (c *Cursor[T]) WindowWith(perPage int) engine.Window {
	return engine.Window{Page: c.Page, PerPage: perPage}
}

// Done reports whether the upstream stream is exhausted.
func (c *Cursor[T]) Done() bool { return c.done }

// SetDone marks the cursor terminal (retiring it from its registry) or
// revives it (registering it again).
func (c *Cursor[T]) SetDone(done bool) {
	if c.done == done {
		return
	}
	c.done = done
	switch {
	case done && c.retire != nil:
		c.retire()
	case !done && c.revive != nil:
		c.revive()
	}
}

// NeedsMoreData reports whether the buffer is drained and more upstream data may exist.
func (c *Cursor[T]) NeedsMoreData() bool {
	return len(c.data) == 0 && !c.done
}

// RunningShort reports whether at most one rendered page is left while
// upstream may still have more.
func (c *Cursor[T]) RunningShort() bool {
	return len(c.data) <= c.PerPage && !c.done
}

// Finding reports whether a find target is set and not located yet.
func (c *Cursor[T]) Finding() bool {
	return c.find != nil && !c.hasFound
}

// Found returns the located find target item.
func (c *Cursor[T]) Found() (T, bool) { return c.found, c.hasFound }

// Buffered returns the number of buffered items.
func (c *Cursor[T]) Buffered() int { return len(c.data) }

// Items returns the first PerPage buffered items without consuming them.
func (c *Cursor[T]) Items() []T {
	n := min(len(c.data), c.PerPage)
	return append([]T(nil), c.data[:n]...)
}

// Advance drops the items returned by the last Items call.
func (c *Cursor[T]) Advance() *Cursor[T] {
	n := min(len(c.data), c.PerPage)
	clear(c.data[:n])
	c.data = c.data[n:]
	return c
}

// Add appends one upstream page. An empty page marks the cursor done.
func (c *Cursor[T]) Add(items []T) *Cursor[T] {
	if len(items) == 0 {
		c.SetDone(true)
		return c
	}
	if c.Finding() {
		for _, it := range items {
			if v, ok := it.Attr(c.find.Attr); ok && v == c.find.Value {
				c.found, c.hasFound = it, true
				break
			}
		}
	}
	c.data = append(c.data, items...)
	c.Page++
	return c
}

// Reset empties the buffer and restarts from the first upstream page.
func (c *Cursor[T]) Reset() {
	clear(c.data)
	c.data = c.data[:0]
	c.Page = 1
	c.SetDone(false)
}

// NextQuery returns the query parameters a client sends to fetch the next page.
func (c *Cursor[T]) NextQuery() url.Values {
	q := url.Values{}
	q.Set("pagination_id", c.id)
	q.Set("page", strconv.Itoa(c.Page))
	if c.ContinuationID != "" {
		q.Set("continuation_id", c.ContinuationID)
	}
	return q
}
