package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)
	_, ok = SessionID(ctx)
	assert.False(t, ok)
	assert.Equal(t, "unknown", Source(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithSource(ctx, SourceStream)

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	sid, ok := SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", sid)
	assert.Equal(t, SourceStream, Source(ctx))

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}
