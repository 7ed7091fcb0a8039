package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFirebaseTestServer(t *testing.T, signUps *int32, refreshes *int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts:signUp", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		req := &SignUpRequestBody{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(req))
		assert.True(t, req.ReturnSecureToken)
		atomic.AddInt32(signUps, 1)
		json.NewEncoder(w).Encode(&SignUpResponseBody{
			IDToken:      "id-token-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    "3600",
			LocalID:      "anon-1",
		})
	})
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, r *http.Request) {
		req := &RefreshRequestBody{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(req))
		atomic.AddInt32(refreshes, 1)
		if req.RefreshToken != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"TOKEN_EXPIRED"}}`))
			return
		}
		json.NewEncoder(w).Encode(&RefreshResponseBody{
			IDToken:      "id-token-2",
			RefreshToken: "refresh-2",
			ExpiresIn:    "3600",
			UserID:       "anon-1",
		})
	})
	return httptest.NewServer(mux)
}

func TestFirebaseProviderSignInIsCached(t *testing.T) {
	var signUps, refreshes int32
	server := newFirebaseTestServer(t, &signUps, &refreshes)
	defer server.Close()

	p := NewFirebaseProvider(NewFirebaseProviderOptions{
		APIKey:             "test-key",
		IdentityToolkitURL: server.URL,
		SecureTokenURL:     server.URL,
	})

	first, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anon-1", first.PlayerID)
	assert.Equal(t, "id-token-1", first.Token)

	second, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&signUps))
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes))
}

func TestFirebaseProviderRefreshesNearExpiry(t *testing.T) {
	var signUps, refreshes int32
	server := newFirebaseTestServer(t, &signUps, &refreshes)
	defer server.Close()

	p := NewFirebaseProvider(NewFirebaseProviderOptions{
		APIKey:             "test-key",
		IdentityToolkitURL: server.URL,
		SecureTokenURL:     server.URL,
	})
	now := time.Now()
	p.now = func() time.Time { return now }

	_, err := p.SignIn(context.Background())
	require.NoError(t, err)

	now = now.Add(time.Hour)
	id, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anon-1", id.PlayerID)
	assert.Equal(t, "id-token-2", id.Token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&signUps))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestFirebaseProviderSignUpFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"OPERATION_NOT_ALLOWED"}}`))
	}))
	defer server.Close()

	p := NewFirebaseProvider(NewFirebaseProviderOptions{
		APIKey:             "test-key",
		IdentityToolkitURL: server.URL,
	})
	_, err := p.SignIn(context.Background())
	require.Error(t, err)

	var fbErr *FirebaseError
	require.ErrorAs(t, err, &fbErr)
	assert.Equal(t, ErrorOperationNotAllowed, fbErr.Message)
}
