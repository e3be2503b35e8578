package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/generate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aGVsbG8=", req.Image)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 512, *req.MaxTokens)

		json.NewEncoder(w).Encode(GenerateResponse{
			SVGCode: "<svg></svg>",
			Model:   "starvector/starvector-1b-im2svg",
			Device:  "cpu",
		})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := NewClient(u.Host, srv.Client())

	maxTokens := 512
	resp, err := client.Generate(context.Background(), &GenerateRequest{
		Image:     "aGVsbG8=",
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)
	assert.Equal(t, "<svg></svg>", resp.SVGCode)
	assert.Equal(t, "cpu", resp.Device)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := NewClient(u.Host, srv.Client())

	_, err = client.Generate(context.Background(), &GenerateRequest{Image: "aGVsbG8="})
	var statusError StatusError
	require.ErrorAs(t, err, &statusError)
	assert.Equal(t, http.StatusServiceUnavailable, statusError.StatusCode)
	assert.Equal(t, "model not loaded", statusError.ErrorMessage)
}

func TestClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := NewClient(u.Host, srv.Client())

	_, err = client.Health(context.Background())
	var statusError StatusError
	require.ErrorAs(t, err, &statusError)
	assert.Equal(t, http.StatusBadGateway, statusError.StatusCode)
	assert.NotEmpty(t, statusError.ErrorMessage)
}
