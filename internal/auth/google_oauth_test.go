package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hitoshi/tweetbridge/internal/model"
)

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	raw := provider.GetLoginURL("test-state-value")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", raw, err)
	}
	q := u.Query()

	tests := []struct {
		param string
		want  string
	}{
		{"client_id", "test-client-id"},
		{"redirect_uri", "http://localhost:8080/auth/google/callback"},
		{"state", "test-state-value"},
		{"response_type", "code"},
		{"scope", "openid email profile"},
		{"prompt", "select_account"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := q.Get(tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		// クライアント認証情報はボディで送る
		if got := r.PostForm.Get("client_id"); got != "test-client-id" {
			t.Errorf("client_id = %q", got)
		}
		if got := r.PostForm.Get("code"); got != "test-auth-code" {
			t.Errorf("code = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":     "google-sub-12345",
			"email":   "user@gmail.com",
			"name":    "Google User",
			"picture": "https://example.com/p.png",
		})
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		TokenURL:     tokenServer.URL,
		UserInfoURL:  userInfoServer.URL,
	})

	info, err := provider.ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if info.Provider != "google" {
		t.Errorf("provider = %q, want google", info.Provider)
	}
	if info.ProviderUserID != "google-sub-12345" {
		t.Errorf("providerUserID = %q", info.ProviderUserID)
	}
	if info.Email != "user@gmail.com" || info.Name != "Google User" {
		t.Errorf("profile = %+v", info)
	}
	if info.PhotoURL != "https://example.com/p.png" {
		t.Errorf("photoURL = %q", info.PhotoURL)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_ProviderErrorCode(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Code was already redeemed.",
		})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		TokenURL:     tokenServer.URL,
	})

	_, err := provider.ExchangeCode(context.Background(), "used-code")
	if err == nil {
		t.Fatal("expected error")
	}
	bErr := model.AsBridgeError(err, nil)
	if bErr == nil {
		t.Fatalf("expected BridgeError in chain, got %v", err)
	}
	if bErr.Code != "auth/invalid_grant" {
		t.Errorf("code = %q, want auth/invalid_grant", bErr.Code)
	}
	if bErr.Message != "Code was already redeemed." {
		t.Errorf("message = %q", bErr.Message)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_NetworkFailure(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	tokenURL := closed.URL
	closed.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID: "test-client-id",
		TokenURL: tokenURL,
	})

	_, err := provider.ExchangeCode(context.Background(), "code")
	bErr := model.AsBridgeError(err, nil)
	if bErr == nil || bErr.Code != model.ErrCodeNetworkRequest {
		t.Fatalf("error = %v, want %s", err, model.ErrCodeNetworkRequest)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_UserInfoError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_token"})
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		TokenURL:    tokenServer.URL,
		UserInfoURL: userInfoServer.URL,
	})

	_, err := provider.ExchangeCode(context.Background(), "valid-code")
	bErr := model.AsBridgeError(err, nil)
	if bErr == nil || bErr.Code != "auth/invalid_token" {
		t.Fatalf("error = %v, want auth/invalid_token", err)
	}
}
