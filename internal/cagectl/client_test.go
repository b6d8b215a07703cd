package cagectl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_GetJSONDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	var resp map[string]string
	require.NoError(t, newClient(srv.URL).getJSON("/status", &resp))
	require.Equal(t, "ok", resp["status"])
}

func TestClient_GetJSONPropagatesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newClient(srv.URL).getJSON("/status", nil)
	require.Error(t, err)
}

func TestClient_PostJSONSendsBodyAndDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "s-1", body["session"])
		json.NewEncoder(w).Encode(map[string]string{"status": "drained"})
	}))
	defer srv.Close()

	var resp map[string]string
	err := newClient(srv.URL).postJSON("/drain", map[string]string{"session": "s-1"}, &resp)
	require.NoError(t, err)
	require.Equal(t, "drained", resp["status"])
}
