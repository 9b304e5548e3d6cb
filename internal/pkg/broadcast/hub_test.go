package broadcast

import (
	"fmt"
	"testing"

	"github.com/airenas/vox/internal/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe(t *testing.T) {
	h := NewHub(5)
	h.Open("s1")
	sub, err := h.Subscribe("s1")
	require.Nil(t, err)
	assert.Equal(t, "s1", sub.SessionID())
}

func TestSubscribe_Unknown(t *testing.T) {
	h := NewHub(5)
	_, err := h.Subscribe("s1")
	assert.ErrorIs(t, err, api.ErrUnknownSession)
}

func TestPublish(t *testing.T) {
	h := NewHub(5)
	h.Open("s1")
	sub, err := h.Subscribe("s1")
	require.Nil(t, err)
	h.Publish("s1", api.ViewerEvent{Type: api.EventTypeSegment, SessionID: "s1",
		Segment: &api.Segment{Seq: 1, Text: "olia"}})
	ev := <-sub.Events()
	assert.Equal(t, api.EventTypeSegment, ev.Type)
	assert.Equal(t, 1, ev.Segment.Seq)
}

func TestPublish_SeveralSubscribers(t *testing.T) {
	h := NewHub(5)
	h.Open("s1")
	subs := make([]*Subscription, 0)
	for i := 0; i < 10; i++ {
		sub, err := h.Subscribe("s1")
		require.Nil(t, err)
		subs = append(subs, sub)
	}
	h.Publish("s1", api.ViewerEvent{Type: api.EventTypeStatus, SessionID: "s1", Status: "ACTIVE"})
	for _, sub := range subs {
		ev := <-sub.Events()
		assert.Equal(t, "ACTIVE", ev.Status)
	}
}

func TestPublish_NoCrossSession(t *testing.T) {
	h := NewHub(5)
	h.Open("s1")
	h.Open("s2")
	sub1, _ := h.Subscribe("s1")
	sub2, _ := h.Subscribe("s2")
	h.Publish("s1", api.ViewerEvent{Type: api.EventTypeSegment, SessionID: "s1", Segment: &api.Segment{Seq: 1}})
	ev := <-sub1.Events()
	assert.Equal(t, "s1", ev.SessionID)
	select {
	case ev := <-sub2.Events():
		require.Failf(t, "unexpected event", "%v", ev)
	default:
	}
}

func TestPublish_DropsSlow(t *testing.T) {
	h := NewHub(2)
	h.Open("s1")
	slow, err := h.Subscribe("s1")
	require.Nil(t, err)
	fast, err := h.Subscribe("s1")
	require.Nil(t, err)
	// slow reader never reads - delivery to the fast one must not block
	for i := 1; i <= 10; i++ {
		h.Publish("s1", api.ViewerEvent{Type: api.EventTypeSegment, SessionID: "s1",
			Segment: &api.Segment{Seq: i, Text: fmt.Sprintf("t%d", i)}})
		ev := <-fast.Events()
		assert.Equal(t, i, ev.Segment.Seq)
	}
	got := 0
	for range slow.Events() {
		got++
	}
	assert.Equal(t, 2, got) // buffer size, rest dropped with the subscriber
	assert.True(t, slow.Dropped())
	assert.False(t, fast.Dropped())
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(5)
	h.Open("s1")
	sub, err := h.Subscribe("s1")
	require.Nil(t, err)
	h.Unsubscribe(sub)
	_, open := <-sub.Events()
	assert.False(t, open)
	h.Unsubscribe(sub) // second call is a no-op
	h.Publish("s1", api.ViewerEvent{Type: api.EventTypeStatus, SessionID: "s1"})
}

func TestCloseSession(t *testing.T) {
	h := NewHub(5)
	h.Open("s1")
	sub, err := h.Subscribe("s1")
	require.Nil(t, err)
	h.CloseSession("s1")
	_, open := <-sub.Events()
	assert.False(t, open)
	_, err = h.Subscribe("s1")
	assert.ErrorIs(t, err, api.ErrUnknownSession)
}
