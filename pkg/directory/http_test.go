package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cbodonnell/lobbysync/pkg/identity"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticIdentity struct {
	id *identity.Identity
}

func (s *staticIdentity) SignIn(context.Context) (*identity.Identity, error) {
	return s.id, nil
}

type fakeDirectoryServer struct {
	t        *testing.T
	sessions []SessionSummary

	lock   sync.Mutex
	left   []string
	locked []string
}

func (f *fakeDirectoryServer) calls() (locked []string, left []string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.locked...), append([]string(nil), f.left...)
}

func (f *fakeDirectoryServer) handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(f.t, "Bearer token-1", r.Header.Get("Authorization"))
			next.ServeHTTP(w, r)
		})
	})
	r.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.sessions)
	}).Methods(http.MethodGet)
	r.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		req := &CreateRequest{}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&Allocation{
			SessionID:   "s-new",
			HostID:      "player-1",
			PlayerID:    "player-1",
			JoinAddress: req.Properties[JoinKey],
		})
	}).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionID}/join", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["sessionID"]
		if id == "missing" {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(&Allocation{
			SessionID:   id,
			HostID:      "host-1",
			PlayerID:    "player-1",
			JoinAddress: "tcp://127.0.0.1:8889",
		})
	}).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionID}/lock", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.locked = append(f.locked, mux.Vars(r)["sessionID"])
		f.lock.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionID}/leave", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.left = append(f.left, mux.Vars(r)["sessionID"])
		f.lock.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	return r
}

func newTestClient(t *testing.T, sessions ...SessionSummary) (*HTTPClient, *fakeDirectoryServer) {
	fake := &fakeDirectoryServer{t: t, sessions: sessions}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	client := NewHTTPClient(NewHTTPClientOptions{
		BaseURL:  server.URL + "/",
		Identity: &staticIdentity{id: &identity.Identity{PlayerID: "player-1", Token: "token-1"}},
	})
	return client, fake
}

func TestHTTPClientListSessions(t *testing.T) {
	client, _ := newTestClient(t, SessionSummary{
		ID: "a", Name: "Alpha", HostID: "host-1", CurrentCount: 1, MaxCount: 5,
		Properties: map[string]string{DifficultyKey: "0"},
	})

	sessions, err := client.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Alpha", sessions[0].Name)
	assert.Equal(t, "Easy", sessions[0].Difficulty())
	assert.False(t, sessions[0].Full())
}

func TestHTTPClientCreateAndLeave(t *testing.T) {
	client, fake := newTestClient(t)

	alloc, err := client.Create(context.Background(), CreateOptions{
		Name:        "My Lobby",
		JoinAddress: "tcp://127.0.0.1:8889",
	})
	require.NoError(t, err)
	assert.True(t, alloc.IsHost())
	assert.Equal(t, "tcp://127.0.0.1:8889", alloc.JoinAddress)
	assert.Same(t, alloc, client.Current())

	require.NoError(t, client.Lock(context.Background(), alloc.SessionID))
	require.NoError(t, client.Leave(context.Background()))
	locked, left := fake.calls()
	assert.Equal(t, []string{"s-new"}, locked)
	assert.Equal(t, []string{"s-new"}, left)
	assert.Nil(t, client.Current())

	assert.ErrorIs(t, client.Leave(context.Background()), ErrNoAllocation)
}

func TestHTTPClientJoin(t *testing.T) {
	client, _ := newTestClient(t)

	alloc, err := client.Join(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, alloc.IsHost())
	assert.Equal(t, "s-1", alloc.SessionID)

	_, err = client.Join(context.Background(), "missing")
	var dirErr *Error
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, http.StatusNotFound, dirErr.StatusCode)
	assert.Equal(t, "session not found", dirErr.Message)

	// a failed join keeps the previous allocation
	assert.Equal(t, "s-1", client.Current().SessionID)
}

func TestCreateOptionsRequest(t *testing.T) {
	tests := []struct {
		name    string
		opts    CreateOptions
		wantErr bool
		want    *CreateRequest
	}{
		{
			name: "defaults max players",
			opts: CreateOptions{Name: "Lobby", JoinAddress: "tcp://h:1"},
			want: &CreateRequest{
				Name:       "Lobby",
				MaxPlayers: DefaultMaxPlayers,
				Properties: map[string]string{DifficultyKey: "0", JoinKey: "tcp://h:1"},
			},
		},
		{name: "empty name", opts: CreateOptions{JoinAddress: "tcp://h:1"}, wantErr: true},
		{name: "unknown difficulty", opts: CreateOptions{Name: "Lobby", Difficulty: 3, JoinAddress: "tcp://h:1"}, wantErr: true},
		{name: "missing join address", opts: CreateOptions{Name: "Lobby"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Request()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
