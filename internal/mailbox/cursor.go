package mailbox

// cursor is the highest UID already delivered. It only moves forward.
type cursor struct {
	uid uint32
}

func (c *cursor) advance(uid uint32) {
	if uid > c.uid {
		c.uid = uid
	}
}

// next is the first UID not yet delivered.
func (c *cursor) next() uint32 {
	return c.uid + 1
}
