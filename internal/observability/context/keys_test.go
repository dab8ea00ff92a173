package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "01HZX")
	assert.Equal(t, "01HZX", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Len(t, NewRequestID(), 26)
}

func TestActorAndJobKind(t *testing.T) {
	ctx := WithActor(context.Background(), "system", "scheduler")
	ctx = WithJobKind(ctx, "generate_invoices")

	kind, id := ActorFromContext(ctx)
	assert.Equal(t, "system", kind)
	assert.Equal(t, "scheduler", id)
	assert.Equal(t, "generate_invoices", JobKindFromContext(ctx))

	kind, id = ActorFromContext(context.Background())
	assert.Empty(t, kind)
	assert.Empty(t, id)
}
