// Package registry implements the intrusive doubly-linked client set
// shared by the engine and event loop.
package registry

// Client is a transient connection record. It starts in the void position
// (torus.VoidTileX/Y) before its first spawn so that it is nobody's
// observer until the engine moves it somewhere real.
type Client struct {
	FD int

	TileX, TileY uint32
	CellX, CellY uint8

	prev, next *Client
}

// Registry is the doubly-linked set of connected clients, keyed by file
// descriptor for O(1) lookup on a readiness event.
type Registry struct {
	byFD map[int]*Client
	head *Client
}

func New() *Registry {
	return &Registry{byFD: make(map[int]*Client)}
}

// Add inserts a fresh client record at head, keyed by fd.
func (r *Registry) Add(fd int, tileX, tileY uint32, cellX, cellY uint8) *Client {
	c := &Client{FD: fd, TileX: tileX, TileY: tileY, CellX: cellX, CellY: cellY}
	c.next = r.head
	if r.head != nil {
		r.head.prev = c
	}
	r.head = c
	r.byFD[fd] = c
	return c
}

// Remove unlinks c from the list and the fd index.
func (r *Registry) Remove(c *Client) {
	if c.prev != nil {
		c.prev.next = c.next
	} else if r.head == c {
		r.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
	c.prev, c.next = nil, nil
	delete(r.byFD, c.FD)
}

// ByFD looks up a client by file descriptor; used by the event loop to
// dispatch a readiness event to its record.
func (r *Registry) ByFD(fd int) (*Client, bool) {
	c, ok := r.byFD[fd]
	return c, ok
}

// Len reports the number of connected clients.
func (r *Registry) Len() int { return len(r.byFD) }

// Observers returns a snapshot of every client co-located with (tileX,
// tileY), excluding exclude if non-nil. The snapshot lets a broadcast
// safely remove a failing recipient mid-iteration without perturbing the
// registry's own live linked list.
func (r *Registry) Observers(tileX, tileY uint32, exclude *Client) []*Client {
	var out []*Client
	for c := r.head; c != nil; c = c.next {
		if c == exclude {
			continue
		}
		if c.TileX != tileX || c.TileY != tileY {
			continue
		}
		out = append(out, c)
	}
	return out
}
