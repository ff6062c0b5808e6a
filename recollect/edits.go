package recollect

import (
	"sync"
	"time"
)

// TrackedReply is a reply the bot sent to a user's message, kept so that
// an edit of the message can update the reply in place.
type TrackedReply struct {
	SourceID  string
	ChannelID string
	ReplyID   string
	SentAt    time.Time

	lastReanswer time.Time
}

// EditTracker decides whether an edited message should be answered again.
// A reply is eligible for the edit window after it's sent, and is
// re-answered at most once per throttle interval.
type EditTracker struct {
	mu       sync.Mutex
	replies  map[string]*TrackedReply
	window   time.Duration
	throttle time.Duration
	now      func() time.Time
}

func NewEditTracker(window time.Duration, throttle time.Duration) *EditTracker {
	return &EditTracker{
		replies:  map[string]*TrackedReply{},
		window:   window,
		throttle: throttle,
		now:      time.Now,
	}
}

// Track records that replyID in channelID answers the message sourceID.
func (t *EditTracker) Track(sourceID, channelID, replyID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[sourceID] = &TrackedReply{
		SourceID:  sourceID,
		ChannelID: channelID,
		ReplyID:   replyID,
		SentAt:    t.now(),
	}
}

// Reanswer returns the tracked reply for sourceID if an edit of it should
// be answered now, and starts the throttle interval.
func (t *EditTracker) Reanswer(sourceID string) (TrackedReply, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.purge(now)

	reply, ok := t.replies[sourceID]
	if !ok {
		return TrackedReply{}, false
	}
	if !reply.lastReanswer.IsZero() && now.Sub(reply.lastReanswer) < t.throttle {
		return TrackedReply{}, false
	}
	reply.lastReanswer = now
	return *reply, true
}

// Forget stops tracking the reply to sourceID.
func (t *EditTracker) Forget(sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.replies, sourceID)
}

// Purge drops replies past the edit window, returning how many were
// dropped.
func (t *EditTracker) Purge() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.purge(t.now())
}

func (t *EditTracker) purge(now time.Time) int {
	purged := 0
	for id, reply := range t.replies {
		if now.Sub(reply.SentAt) > t.window {
			delete(t.replies, id)
			purged++
		}
	}
	return purged
}

func (t *EditTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.replies)
}
