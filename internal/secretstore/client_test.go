package secretstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateKey_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createKeyResponse{VaultKeyRef: "vault-abc"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	ref, err := c.CreateKey(context.Background(), "chat1")
	require.NoError(t, err)
	assert.Equal(t, "vault-abc", ref)
}

func TestCreateKey_ErrorsOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 0})
	_, err := c.CreateKey(context.Background(), "chat1")
	assert.Error(t, err)
}
