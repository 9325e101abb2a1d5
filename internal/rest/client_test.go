package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchUser(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/user" {
			http.NotFound(w, r)
			return
		}
		gotHeader.Store(r.Header.Get("Cookie"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","username":"Ana","balance":120}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetHeader("Cookie", "session=abc")

	user, err := c.FetchUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
	require.Equal(t, "Ana", user.Username)
	require.Equal(t, 120, user.Balance)
	require.Equal(t, "session=abc", gotHeader.Load())
}

func TestFetchUserErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchUser(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestFetchUserMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchUser(context.Background())
	require.Error(t, err)
}
