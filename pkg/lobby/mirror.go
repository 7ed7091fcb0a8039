package lobby

import (
	"fmt"
	"sync"

	"github.com/cbodonnell/lobbysync/pkg/messages"
)

// Mirror is a client's replica of the host registry. It only changes
// through replicated UpsertEntry and RemoveEntry messages.
type Mirror struct {
	lock    sync.RWMutex
	entries map[ClientID]bool
}

func NewMirror() *Mirror {
	return &Mirror{
		entries: make(map[ClientID]bool),
	}
}

// Apply applies a replicated registry message. It reports whether msg
// was a registry message at all.
func (m *Mirror) Apply(msg *messages.Message) (bool, error) {
	switch msg.Type {
	case messages.MessageTypeServerUpsertEntry:
		payload, err := messages.DecodePayload[messages.ServerUpsertEntry](msg)
		if err != nil {
			return true, fmt.Errorf("failed to decode upsert entry: %v", err)
		}
		m.upsert(ClientID(payload.ClientID), payload.Ready)
		return true, nil
	case messages.MessageTypeServerRemoveEntry:
		payload, err := messages.DecodePayload[messages.ServerRemoveEntry](msg)
		if err != nil {
			return true, fmt.Errorf("failed to decode remove entry: %v", err)
		}
		m.remove(ClientID(payload.ClientID))
		return true, nil
	default:
		return false, nil
	}
}

func (m *Mirror) upsert(id ClientID, ready bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.entries[id] = ready
}

func (m *Mirror) remove(id ClientID) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.entries, id)
}

func (m *Mirror) Snapshot() []Entry {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return snapshotOf(m.entries)
}

func (m *Mirror) AllReady() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return allReady(m.entries)
}

func (m *Mirror) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.entries)
}

// Clear discards every entry.
func (m *Mirror) Clear() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.entries = make(map[ClientID]bool)
}
