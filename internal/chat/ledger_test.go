package chat

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordIncomingCountsOnlyForeignInactive(t *testing.T) {
	l := NewUnreadLedger()

	assert.True(t, l.RecordIncoming("c1", false, false))
	assert.False(t, l.RecordIncoming("c1", true, false))
	assert.False(t, l.RecordIncoming("c1", false, true))
	assert.False(t, l.RecordIncoming("c1", true, true))
	assert.False(t, l.RecordIncoming("", false, false))
	assert.True(t, l.RecordIncoming("c2", false, false))
	assert.True(t, l.RecordIncoming("c1", false, false))

	assert.Equal(t, 2, l.Count("c1"))
	assert.Equal(t, 1, l.Count("c2"))
	assert.Equal(t, 3, l.Total())
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1}, l.Snapshot())
}

func TestMarkReadRemovesEntry(t *testing.T) {
	l := NewUnreadLedger()
	for i := 0; i < 5; i++ {
		l.RecordIncoming("c1", false, false)
	}
	l.MarkRead("c1")

	_, present := l.Snapshot()["c1"]
	assert.False(t, present)
	assert.Equal(t, 0, l.Total())

	l.MarkRead("never-seen")
	assert.Empty(t, l.Snapshot())
}

func TestTotalMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	conversations := []string{"a", "b", "c", "d"}

	l := NewUnreadLedger()
	model := map[string]int{}
	for i := 0; i < 2000; i++ {
		id := conversations[rng.Intn(len(conversations))]
		if rng.Intn(5) == 0 {
			l.MarkRead(id)
			delete(model, id)
			continue
		}
		self, active := rng.Intn(3) == 0, rng.Intn(3) == 0
		l.RecordIncoming(id, self, active)
		if !self && !active {
			model[id]++
		}

		want := 0
		for _, n := range model {
			want += n
		}
		if !assert.Equal(t, want, l.Total(), "step %d", i) {
			return
		}
		for id, n := range l.Snapshot() {
			assert.Positive(t, n, "conversation %s kept a non-positive count", id)
		}
	}
}
