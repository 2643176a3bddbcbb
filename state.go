package ialarm

import (
	"sync"
	"time"
)

// Source says who produced a status value.
type Source int

const (
	SourcePoll Source = iota
	SourceCommand
	SourcePush
)

func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourceCommand:
		return "command"
	case SourcePush:
		return "push"
	default:
		return "unknown"
	}
}

// StatusUpdate is a status value and when it was observed.
type StatusUpdate struct {
	Status Status
	Time   time.Time
	Source Source
	UserID string
}

// StatusCell owns the device status shared by the push listener and the
// command path. An update observed before the current value is dropped,
// so a poll that started before a push event arrived cannot overwrite it.
// Polls should therefore be stamped with the time the request started.
type StatusCell struct {
	mu  sync.Mutex
	cur StatusUpdate
}

func NewStatusCell() *StatusCell {
	return &StatusCell{cur: StatusUpdate{Status: StatusUnavailable}}
}

func (c *StatusCell) Get() StatusUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Set stores u unless it is older than the current value.
func (c *StatusCell) Set(u StatusUpdate) (StatusUpdate, bool) {
	return c.Update(u.Time, u.Source, u.UserID, func(Status) Status { return u.Status })
}

// Update computes the next status from the current one atomically.
// It reports the stored value and whether the update was applied.
func (c *StatusCell) Update(
	at time.Time,
	source Source,
	userID string,
	next func(prev Status) Status,
) (StatusUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cur.Time.IsZero() && at.Before(c.cur.Time) {
		log.Debug(
			"dropping stale status",
			"source", source,
			"at", at,
			"current", c.cur.Status,
			"current_at", c.cur.Time,
		)
		return c.cur, false
	}
	c.cur = StatusUpdate{
		Status: next(c.cur.Status),
		Time:   at,
		Source: source,
		UserID: userID,
	}
	return c.cur, true
}
