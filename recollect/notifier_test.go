package recollect

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewTurnsNotifier(t *testing.T) {
	t.Parallel()
	turns := NewTurnCache(nil)

	n := newTurnsNotifier(dbTypeSQLite, "", nil, turns, nil)
	require.IsType(t, localNotifier{}, n)
	assert.NoError(t, n.NotifyTurnsCleared(context.Background(), "u1"))
	assert.NoError(t, n.Listen(context.Background()))

	n = newTurnsNotifier(dbTypePostgres, "postgres://localhost/recollect", nil, turns, nil)
	pn, ok := n.(*postgresNotifier)
	require.True(t, ok)
	assert.NotEmpty(t, pn.id)
	assert.Equal(t, pn.id+":u1", pn.payload("u1"))
}

func TestPostgresNotifier_HandlePayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	turns := NewTurnCache(nil)
	n := newPostgresNotifier("", nil, turns.Clear, nil)

	for _, id := range []string{"u1", "u2"} {
		turns.AddTurn(id, TurnRoleUser, "hello")
	}

	// an instance ignores its own notifications
	n.handlePayload(ctx, n.payload("u1"))
	assert.Len(t, turns.Turns("u1"), 1)

	n.handlePayload(ctx, "no-separator")
	n.handlePayload(ctx, "other-instance:")
	assert.Len(t, turns.Turns("u1"), 1)
	assert.Len(t, turns.Turns("u2"), 1)

	n.handlePayload(ctx, "other-instance:u1")
	assert.Empty(t, turns.Turns("u1"))
	assert.Len(t, turns.Turns("u2"), 1)
}

func TestRecollect_ClearTurns(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestBot(t, nil)
	r.turns.AddTurn("u1", TurnRoleUser, "hello")

	r.clearTurns(context.Background(), "u1")
	assert.Empty(t, r.turns.Turns("u1"))
}
