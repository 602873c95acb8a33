package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBackendVerifierConfirmsSession(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, testSecret, userID.String(), time.Hour)

	var gotAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":"` + userID.String() + `"}`))
	}))
	defer backend.Close()

	v := NewBackendVerifier(backend.URL, testSecret)
	got, err := v.VerifyToken(context.Background(), token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if got != userID {
		t.Errorf("expected %s, got %s", userID, got)
	}
	if gotAuth != "Bearer "+token {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
}

func TestBackendVerifierRevokedSession(t *testing.T) {
	token := signToken(t, testSecret, uuid.New().String(), time.Hour)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer backend.Close()

	v := NewBackendVerifier(backend.URL, testSecret)
	_, err := v.VerifyToken(context.Background(), token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestBackendVerifierSkipsBackendOnBadSignature(t *testing.T) {
	token := signToken(t, "other-secret", uuid.New().String(), time.Hour)

	called := false
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer backend.Close()

	v := NewBackendVerifier(backend.URL, testSecret)
	_, err := v.VerifyToken(context.Background(), token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if called {
		t.Error("backend must not be called for a locally invalid token")
	}
}

func TestBackendVerifierBackendFailure(t *testing.T) {
	token := signToken(t, testSecret, uuid.New().String(), time.Hour)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	v := NewBackendVerifier(backend.URL, testSecret)
	_, err := v.VerifyToken(context.Background(), token)
	if err == nil {
		t.Fatal("expected an error for a failing backend")
	}
	if errors.Is(err, ErrInvalidToken) {
		t.Fatal("backend outage must not masquerade as an invalid token")
	}
}
