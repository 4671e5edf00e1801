package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	known bool
	err   error
}

func (f fakeLedger) IsKnown(_ context.Context, _, _ string) (bool, error) {
	return f.known, f.err
}

func TestResolveToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resolveTokenResponse{UserHash: "u1"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, fakeLedger{})
	userHash, err := c.ResolveToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", userHash)
}

func TestResolveToken_RejectsOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, fakeLedger{})
	_, err := c.ResolveToken(context.Background(), "tok")
	assert.Error(t, err)
}

func TestIsKnownDevice_DelegatesToLedger(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"}, fakeLedger{known: true})
	known, err := c.IsKnownDevice(context.Background(), "u1", "dev1")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestParseLocalClaims_ReadsSubWithoutVerification(t *testing.T) {
	// header.payload.signature with payload {"sub":"u1"} base64url, unverified.
	token := "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ1MSJ9."
	claims, err := ParseLocalClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims["sub"])
}
