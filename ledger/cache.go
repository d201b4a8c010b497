package ledger

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// replayCache memoizes the event fold per register. An entry is only valid while
// the register's highest append id is still the one it was computed from.
// Sales are never cached; they are folded in on every read.
type replayCache struct {
	entries *lru.Cache[int, Session]
	group   singleflight.Group
}

func newReplayCache(size int) (*replayCache, error) {
	if size <= 0 {
		size = 1024
	}
	entries, err := lru.New[int, Session](size)
	if err != nil {
		return nil, err
	}
	return &replayCache{entries: entries}, nil
}

func (c *replayCache) get(registerId int, appendMark int) (Session, bool) {
	if c == nil {
		return Session{}, false
	}
	s, ok := c.entries.Get(registerId)
	if !ok || s.appendMark != appendMark {
		return Session{}, false
	}
	return s, true
}

func (c *replayCache) put(s Session) {
	if c == nil {
		return
	}
	c.entries.Add(s.RegisterId, s)
}

func (c *replayCache) invalidate(registerId int) {
	if c == nil {
		return
	}
	c.entries.Remove(registerId)
}

// do collapses concurrent replays of the same (register, append mark) pair.
func (c *replayCache) do(registerId int, appendMark int, fn func() (Session, error)) (Session, error) {
	if c == nil {
		return fn()
	}
	v, err, _ := c.group.Do(fmt.Sprintf("%d:%d", registerId, appendMark), func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}
