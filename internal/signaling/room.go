package signaling

import "sync"

// Room is a set of connected participants sharing a room ID.
// Membership order is join order; it decides who initiates the offer.
type Room struct {
	// ID is the unique identifier for the room.
	ID string

	mu      sync.Mutex
	members []*Client

	// closed is set once the room has been emptied and is about to be
	// removed from the hub. A joiner that finds a closed room retries.
	closed bool
}

func newRoom(id string) *Room {
	return &Room{ID: id}
}

// Members returns a snapshot of the current members in join order.
func (r *Room) Members() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Client(nil), r.members...)
}

// Len returns the number of members.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// The *Locked helpers require r.mu.

func (r *Room) hasLocked(c *Client) bool {
	for _, m := range r.members {
		if m == c {
			return true
		}
	}
	return false
}

func (r *Room) othersLocked(c *Client) []*Client {
	others := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		if m != c {
			others = append(others, m)
		}
	}
	return others
}

func (r *Room) removeLocked(c *Client) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}
