package tubeserver

import (
	"context"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/pagination"
	"github.com/anatolykoptev/go_tube/internal/toolutil"
)

// ListOutput is the page returned by every paginated tool. Pass
// pagination_id back to get the next page until done is true.
type ListOutput struct {
	PaginationID string               `json:"pagination_id"`
	Page         int                  `json:"page"`
	Done         bool                 `json:"done"`
	Title        string               `json:"title,omitempty"`
	Items        []toolutil.EntryView `json:"items"`
	Found        *toolutil.EntryView  `json:"found,omitempty"`
	Channel      *ChannelInfo         `json:"channel,omitempty"`
	Warning      string               `json:"warning,omitempty"`
}

// ChannelInfo is the channel identity reported with a channel's first page.
type ChannelInfo struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Handle      string `json:"handle,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Subscribers string `json:"subscribers,omitempty"`
}

// pageParams are the paging fields shared by listing inputs.
type pageParams struct {
	id      string
	page    int
	perPage int
	find    *pagination.FindTarget
}

func (p pageParams) cursorParams(id string) pagination.Params {
	return pagination.Params{
		ID:      id,
		Page:    p.page,
		PerPage: toolutil.ClampPerPage(p.perPage),
		Find:    p.find,
	}
}

// page drives one listing cursor: it drops the items shown by the previous
// call, fetches the next upstream window when the buffer ran dry and renders
// the head of the buffer. A failed fetch leaves the cursor untouched.
func (s *Server) page(
	ctx context.Context,
	reg *pagination.Registry[*listCursor],
	p pageParams,
	fetch func(ctx context.Context, w engine.Window) (*engine.Listing, error),
) (ListOutput, *engine.Listing, error) {
	c := reg.GetOrCreate(p.id, func(id string) *listCursor {
		return pagination.NewCursor[engine.Entry](p.cursorParams(id))
	})
	c.Advance()

	var listing *engine.Listing
	if c.NeedsMoreData() {
		l, err := fetch(ctx, c.Window())
		if err != nil {
			return ListOutput{}, nil, err
		}
		listing = l
		c.Add(l.Entries)
	}

	out := s.render(c, c.Items())
	if listing != nil {
		out.Title = listing.Title
	}
	return out, listing, nil
}

func (s *Server) render(c *listCursor, items []engine.Entry) ListOutput {
	out := ListOutput{
		PaginationID: c.SessionID(),
		Page:         c.Page,
		Done:         c.Done(),
		Items:        toolutil.EntryViews(items, s.proxyPrefix),
	}
	if found, ok := c.Found(); ok {
		v := toolutil.NewEntryView(found, s.proxyPrefix)
		out.Found = &v
	}
	return out
}
