package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeMessage(t *testing.T) {
	upsert, err := NewMessage(0, MessageTypeServerUpsertEntry, &ServerUpsertEntry{ClientID: 7, Ready: true})
	require.NoError(t, err)

	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "upsert from host",
			msg:  upsert,
		},
		{
			name: "empty payload",
			msg: &Message{
				ClientID: 5,
				Type:     MessageTypeClientRequestReady,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := SerializeMessage(tt.msg)
			require.NoError(t, err)

			got, err := DeserializeMessage(b)
			require.NoError(t, err)

			assert.Equal(t, tt.msg.ClientID, got.ClientID)
			assert.Equal(t, tt.msg.Type, got.Type)
			assert.Equal(t, []byte(tt.msg.Payload), []byte(got.Payload))
		})
	}
}

func TestDecodePayload(t *testing.T) {
	msg, err := NewMessage(0, MessageTypeServerLoginSuccess, &ServerLoginSuccess{
		ClientID: 2,
		Spawn:    Position{X: 6},
	})
	require.NoError(t, err)

	got, err := DecodePayload[ServerLoginSuccess](msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.ClientID)
	assert.Equal(t, 6.0, got.Spawn.X)
}

func TestDeserializeMessageRejectsGarbage(t *testing.T) {
	_, err := DeserializeMessage([]byte("definitely not zstd"))
	assert.Error(t, err)

	_, err = DeserializeMessageFlatbuffer([]byte{1})
	assert.Error(t, err)
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "ClientRequestReady", MessageTypeClientRequestReady.String())
	assert.Equal(t, "Unknown", MessageType(200).String())
}
