package recollect

import (
	"github.com/hashicorp/golang-lru/v2/expirable"
	"slices"
	"sync"
)

const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
)

// Turn is one utterance in a short conversation window.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnCache keeps the last few turns of each user's conversation in
// memory. Losing it (restart, eviction, expiry) only shortens the
// context sent with the next request.
type TurnCache struct {
	mu       sync.Mutex
	entries  *expirable.LRU[string, []Turn]
	maxTurns int
}

func NewTurnCache(config *TurnCacheConfig) *TurnCache {
	if config == nil {
		config = DefaultConfig().Turns
	}
	return &TurnCache{
		entries: expirable.NewLRU[string, []Turn](
			config.MaxIdentities,
			nil,
			config.TTL,
		),
		maxTurns: config.MaxTurns,
	}
}

// AddTurn appends a turn for identity, trims the sequence to the most
// recent turns and resets its expiry. It returns a copy of the trimmed
// sequence, oldest first.
func (c *TurnCache) AddTurn(identity string, role string, content string) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, _ := c.entries.Peek(identity)
	turns := make([]Turn, 0, len(existing)+1)
	turns = append(turns, existing...)
	turns = append(turns, Turn{Role: role, Content: content})
	if len(turns) > c.maxTurns {
		turns = turns[len(turns)-c.maxTurns:]
	}
	c.entries.Add(identity, turns)
	return slices.Clone(turns)
}

// Turns returns a copy of the turns held for identity, oldest first. It's
// empty (not nil) when nothing is held.
func (c *TurnCache) Turns(identity string) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	turns, ok := c.entries.Get(identity)
	if !ok {
		return []Turn{}
	}
	return slices.Clone(turns)
}

// Clear drops the turns held for identity.
func (c *TurnCache) Clear(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(identity)
}

func (c *TurnCache) Len() int {
	return c.entries.Len()
}
