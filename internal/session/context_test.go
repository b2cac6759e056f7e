package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandle(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	id, err := m.Create(ctx)
	require.NoError(t, err)
	s, err := m.Touch(ctx, id)
	require.NoError(t, err)

	ctx = NewContext(ctx, NewHandle(m, s))
	h, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, h.ID())
	assert.False(t, h.Session().Authenticated())

	require.NoError(t, h.Hydrate(ctx, []byte("creds")))
	assert.True(t, h.Session().Authenticated(), "hydrate refreshes the snapshot")

	require.NoError(t, h.Destroy(ctx))
	_, err = h.Refresh(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
