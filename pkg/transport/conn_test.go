package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/billm/relayhub/pkg/registry"
)

func newQueueOnlyConn(size int) *Conn {
	return &Conn{
		id:   "test",
		send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func TestSendQueueFull(t *testing.T) {
	c := newQueueOnlyConn(2)
	ctx := context.Background()

	assert.NoError(t, c.Send(ctx, []byte("1")))
	assert.NoError(t, c.Send(ctx, []byte("2")))
	assert.ErrorIs(t, c.Send(ctx, []byte("3")), registry.ErrQueueFull)
	assert.Len(t, c.send, 2)
}

func TestSendAfterClose(t *testing.T) {
	c := newQueueOnlyConn(2)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(context.Background(), []byte("x")), registry.ErrConnClosed)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done is not closed")
	}
}
