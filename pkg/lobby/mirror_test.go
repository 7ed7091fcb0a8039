package lobby

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbodonnell/lobbysync/pkg/messages"
)

func TestMirrorResyncConverges(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ClientID{0, 2, 3, 8, 11} {
		r.Admit(id)
	}
	r.SetReady(0)
	r.SetReady(8)

	resync, err := ResyncMessages(r.Snapshot())
	require.NoError(t, err)
	require.Len(t, resync, 5)

	for seed := int64(0); seed < 5; seed++ {
		shuffled := append([]*messages.Message(nil), resync...)
		rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		m := NewMirror()
		for _, msg := range shuffled {
			applied, err := m.Apply(msg)
			require.NoError(t, err)
			assert.True(t, applied)
		}
		if diff := cmp.Diff(r.Snapshot(), m.Snapshot()); diff != "" {
			t.Errorf("mirror mismatch for seed %d (-host +mirror):\n%s", seed, diff)
		}
	}
}

func TestMirrorApply(t *testing.T) {
	m := NewMirror()

	upsert, err := UpsertMessage(Entry{ClientID: 4})
	require.NoError(t, err)
	_, err = m.Apply(upsert)
	require.NoError(t, err)

	readyUpsert, err := UpsertMessage(Entry{ClientID: 4, Ready: true})
	require.NoError(t, err)
	_, err = m.Apply(readyUpsert)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{ClientID: 4, Ready: true}}, m.Snapshot())
	assert.True(t, m.AllReady())

	remove, err := RemoveMessage(4)
	require.NoError(t, err)
	_, err = m.Apply(remove)
	require.NoError(t, err)
	_, err = m.Apply(remove)
	require.NoError(t, err, "removing an absent entry is a no-op")
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.AllReady())
}

func TestMirrorApplyIgnoresOtherMessages(t *testing.T) {
	m := NewMirror()
	msg, err := GameStartMessage(GameStart{SessionID: "abc"})
	require.NoError(t, err)

	applied, err := m.Apply(msg)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMirrorApplyBadPayload(t *testing.T) {
	m := NewMirror()
	applied, err := m.Apply(&messages.Message{Type: messages.MessageTypeServerUpsertEntry, Payload: []byte("{")})
	assert.True(t, applied)
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestMirrorClear(t *testing.T) {
	m := NewMirror()
	msg, err := UpsertMessage(Entry{ClientID: 1, Ready: true})
	require.NoError(t, err)
	_, err = m.Apply(msg)
	require.NoError(t, err)

	m.Clear()
	assert.Empty(t, m.Snapshot())
}
