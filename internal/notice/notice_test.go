package notice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversToUserOnly(t *testing.T) {
	h := NewHub()
	mine, stopMine := h.Subscribe("u1")
	defer stopMine()
	theirs, stopTheirs := h.Subscribe("u2")
	defer stopTheirs()

	h.Publish(Notice{UserID: "u1", Kind: KindWriteFailed, Op: "add", Message: "could not add item"})

	select {
	case n := <-mine:
		assert.Equal(t, KindWriteFailed, n.Kind)
		assert.False(t, n.At.IsZero())
	default:
		t.Fatal("expected a notice for u1")
	}
	select {
	case n := <-theirs:
		t.Fatalf("u2 got %+v", n)
	default:
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, stop := h.Subscribe("u1")
	defer stop()

	for i := 0; i < subscriberBuffer*3; i++ {
		h.Publish(Notice{UserID: "u1", Kind: KindWriteFailed})
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch, stop := h.Subscribe("u1")
	require.Equal(t, 1, h.Subscribers("u1"))

	stop()
	stop()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers("u1"))
	h.Publish(Notice{UserID: "u1"})
}
