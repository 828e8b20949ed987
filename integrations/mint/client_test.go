package mint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyaltykit/core"
)

func TestClientMint(t *testing.T) {
	var got mintRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(mintResponse{TokenID: "42"})
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Token: "tkn"})
	require.NoError(t, err)
	receipt, err := c.Mint(context.Background(), core.MintRequest{RequestID: "req-1", UserID: "alice", Level: 3})
	require.NoError(t, err)
	assert.Equal(t, "42", receipt.TokenID)
	assert.Equal(t, core.UserID("alice"), receipt.UserID)
	assert.Equal(t, mintRequest{RequestID: "req-1", UserID: "alice", Level: 3}, got)
}

func TestClientMintErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, core.ErrTransient},
		{http.StatusConflict, core.ErrConflict},
		{http.StatusBadRequest, core.ErrInvalidInput},
		{http.StatusOK, core.ErrTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		c, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)
		_, err = c.Mint(context.Background(), core.MintRequest{RequestID: "r", UserID: "u"})
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		srv.Close()
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
