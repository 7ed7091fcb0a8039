package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/log"
)

const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com"
)

var _ Provider = &FirebaseProvider{}

// FirebaseProvider signs in anonymously with the Firebase Auth REST API.
type FirebaseProvider struct {
	apiKey             string
	identityToolkitURL string
	secureTokenURL     string
	httpClient         *http.Client
	now                func() time.Time

	lock         sync.Mutex
	identity     *Identity
	refreshToken string
}

type NewFirebaseProviderOptions struct {
	APIKey string
	// IdentityToolkitURL and SecureTokenURL override the Google endpoints.
	IdentityToolkitURL string
	SecureTokenURL     string
	HTTPClient         *http.Client
}

func NewFirebaseProvider(opts NewFirebaseProviderOptions) *FirebaseProvider {
	p := &FirebaseProvider{
		apiKey:             opts.APIKey,
		identityToolkitURL: opts.IdentityToolkitURL,
		secureTokenURL:     opts.SecureTokenURL,
		httpClient:         opts.HTTPClient,
		now:                time.Now,
	}
	if p.identityToolkitURL == "" {
		p.identityToolkitURL = DefaultIdentityToolkitURL
	}
	if p.secureTokenURL == "" {
		p.secureTokenURL = DefaultSecureTokenURL
	}
	if p.httpClient == nil {
		p.httpClient = http.DefaultClient
	}
	return p
}

// ErrorResponseBody is the response body for an error
// https://firebase.google.com/docs/reference/rest/auth#section-error-format
type ErrorResponseBody struct {
	Error struct {
		Code    int                  `json:"code"`
		Message ErrorResponseMessage `json:"message"`
	} `json:"error"`
}

type ErrorResponseMessage string

const (
	ErrorOperationNotAllowed ErrorResponseMessage = "OPERATION_NOT_ALLOWED"
	ErrorTooManyAttempts     ErrorResponseMessage = "TOO_MANY_ATTEMPTS_TRY_LATER"
	ErrorTokenExpired        ErrorResponseMessage = "TOKEN_EXPIRED"
	ErrorUserNotFound        ErrorResponseMessage = "USER_NOT_FOUND"
)

// FirebaseError is a failed Firebase Auth call.
type FirebaseError struct {
	StatusCode int
	Message    ErrorResponseMessage
}

func (e *FirebaseError) Error() string {
	return fmt.Sprintf("firebase auth error %d: %s", e.StatusCode, e.Message)
}

// SignUpRequestBody is the request body for anonymous sign up
// https://firebase.google.com/docs/reference/rest/auth#section-sign-in-anonymously
type SignUpRequestBody struct {
	ReturnSecureToken bool `json:"returnSecureToken"`
}

type SignUpResponseBody struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

// RefreshRequestBody is the request body for the refresh endpoint
// https://firebase.google.com/docs/reference/rest/auth#section-refresh-token
type RefreshRequestBody struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshResponseBody struct {
	ExpiresIn    string `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	UserID       string `json:"user_id"`
}

func (p *FirebaseProvider) SignIn(ctx context.Context) (*Identity, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.identity != nil && !p.identity.expiresSoon(p.now()) {
		return p.identity, nil
	}

	if p.identity != nil && p.refreshToken != "" {
		id, err := p.refresh(ctx)
		if err == nil {
			return id, nil
		}
		// an expired refresh token means a new anonymous account
		log.Warn("Failed to refresh firebase token for %s: %v", p.identity.PlayerID, err)
	}

	return p.signUp(ctx)
}

func (p *FirebaseProvider) signUp(ctx context.Context) (*Identity, error) {
	resp := &SignUpResponseBody{}
	url := p.identityToolkitURL + "/v1/accounts:signUp?key=" + p.apiKey
	if err := p.post(ctx, url, &SignUpRequestBody{ReturnSecureToken: true}, resp); err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}
	expiresIn, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid expiresIn %q: %v", resp.ExpiresIn, err)
	}

	p.identity = &Identity{
		PlayerID:  resp.LocalID,
		Token:     resp.IDToken,
		ExpiresAt: p.now().Add(time.Duration(expiresIn) * time.Second),
	}
	p.refreshToken = resp.RefreshToken
	log.Info("Signed in anonymously as %s", resp.LocalID)
	return p.identity, nil
}

func (p *FirebaseProvider) refresh(ctx context.Context) (*Identity, error) {
	resp := &RefreshResponseBody{}
	url := p.secureTokenURL + "/v1/token?key=" + p.apiKey
	req := &RefreshRequestBody{GrantType: "refresh_token", RefreshToken: p.refreshToken}
	if err := p.post(ctx, url, req, resp); err != nil {
		return nil, err
	}
	expiresIn, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_in %q: %v", resp.ExpiresIn, err)
	}

	p.identity = &Identity{
		PlayerID:  resp.UserID,
		Token:     resp.IDToken,
		ExpiresAt: p.now().Add(time.Duration(expiresIn) * time.Second),
	}
	p.refreshToken = resp.RefreshToken
	log.Debug("Refreshed firebase token for %s", resp.UserID)
	return p.identity, nil
}

func (p *FirebaseProvider) post(ctx context.Context, url string, in interface{}, out interface{}) error {
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(in); err != nil {
		return fmt.Errorf("error encoding request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorResponse := &ErrorResponseBody{}
		if err := json.NewDecoder(resp.Body).Decode(errorResponse); err != nil {
			return fmt.Errorf("failed to decode error response (%s): %v", resp.Status, err)
		}
		return &FirebaseError{StatusCode: resp.StatusCode, Message: errorResponse.Error.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}
	return nil
}
