package messagelog

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/casesync/internal/chat"
)

var t0 = time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) chat.Message {
	return chat.Message{ID: id, CaseID: "c1", Content: id, CreatedAt: t0.Add(offset)}
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestAppendDeduplicates(t *testing.T) {
	l := New()
	assert.True(t, l.Append(msg("m1", 0)))
	assert.False(t, l.Append(msg("m1", time.Hour)), "same id must be ignored even with different fields")
	assert.Equal(t, 1, l.Len())

	got, ok := l.Get("m1")
	require.True(t, ok)
	assert.Equal(t, t0, got.CreatedAt, "first delivery wins")
}

func TestAppendKeepsOrder(t *testing.T) {
	l := New()
	l.Append(msg("m3", 3*time.Second))
	l.Append(msg("m1", time.Second))
	l.Append(msg("m2", 2*time.Second))

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(l.Messages()))
}

func TestTimestampTieBrokenByID(t *testing.T) {
	l := New()
	l.Append(msg("b", 0))
	l.Append(msg("c", 0))
	l.Append(msg("a", 0))

	assert.Equal(t, []string{"a", "b", "c"}, ids(l.Messages()))
}

func TestPrependOverlappingUnorderedBatch(t *testing.T) {
	l := New()
	l.Append(msg("m5", 5*time.Second))
	l.Append(msg("m6", 6*time.Second))

	n := l.Prepend([]chat.Message{msg("m4", 4*time.Second), msg("m6", 6*time.Second), msg("m2", 2*time.Second), msg("m3", 3*time.Second)})
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"m2", "m3", "m4", "m5", "m6"}, ids(l.Messages()))

	oldest, ok := l.Oldest()
	require.True(t, ok)
	assert.Equal(t, "m2", oldest.ID)
}

func TestMarkRead(t *testing.T) {
	l := New()
	l.Append(msg("m1", 0))
	l.Append(msg("m2", time.Second))

	at := t0.Add(time.Minute)
	assert.Equal(t, 1, l.MarkRead([]string{"m1", "unknown"}, at))

	m1, _ := l.Get("m1")
	require.NotNil(t, m1.ReadAt)
	assert.Equal(t, at, *m1.ReadAt)

	m2, _ := l.Get("m2")
	assert.Nil(t, m2.ReadAt)

	assert.Zero(t, l.MarkRead([]string{"m1"}, at.Add(time.Hour)), "already-read messages keep their first timestamp")
	m1, _ = l.Get("m1")
	assert.Equal(t, at, *m1.ReadAt)
}

func TestMessagesReturnsCopy(t *testing.T) {
	l := New()
	l.Append(msg("m1", 0))
	snap := l.Messages()

	l.MarkRead([]string{"m1"}, t0)
	assert.Nil(t, snap[0].ReadAt, "earlier copies must not observe later receipts")
}

// Any interleaving of the same deliveries converges on the same log.
func TestArbitraryDeliveryOrderConverges(t *testing.T) {
	var all []chat.Message
	for i := range 40 {
		all = append(all, msg(string(rune('a'+i%26))+string(rune('a'+i/26)), time.Duration(i%7)*time.Second))
	}
	want := New()
	want.Prepend(all)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		l := New()
		deliveries := append(append([]chat.Message{}, all...), all[:15]...)
		rng.Shuffle(len(deliveries), func(i, j int) { deliveries[i], deliveries[j] = deliveries[j], deliveries[i] })
		for i, m := range deliveries {
			if i%3 == 0 {
				l.Prepend([]chat.Message{m})
			} else {
				l.Append(m)
			}
		}
		assert.Equal(t, ids(want.Messages()), ids(l.Messages()))
	}
}

func TestClear(t *testing.T) {
	l := New()
	l.Append(msg("m1", 0))
	l.Clear()
	assert.Zero(t, l.Len())
	assert.False(t, l.Contains("m1"))
	_, ok := l.Oldest()
	assert.False(t, ok)
}
