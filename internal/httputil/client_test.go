package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Write([]byte(`{"state":"idle"}`))
	}))
	defer srv.Close()

	client := NewStandardClient(time.Second)
	resp, err := Get(context.Background(), client, srv.URL+"/status")
	require.NoError(t, err)

	var body struct {
		State string `json:"state"`
	}
	require.NoError(t, ReadJSON(resp, &body))
	assert.Equal(t, "idle", body.State)
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	m := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"a":1}`).
		AddErrorResponse(errors.New("connection refused"))

	resp, err := Get(context.Background(), m, "http://device/one")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, err = Get(context.Background(), m, "http://device/two")
	assert.EqualError(t, err, "connection refused")

	// Drained queue falls back to an empty 200.
	resp, err = Get(context.Background(), m, "http://device/three")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, 3, m.RequestCount())
	assert.Equal(t, "/two", m.GetRequest(1).URL.Path)
	assert.Nil(t, m.GetRequest(5))
}

func TestMockHTTPClient_DefaultError(t *testing.T) {
	m := NewMockHTTPClient()
	m.DefaultError = errors.New("unreachable")

	_, err := Get(context.Background(), m, "http://device/status")
	assert.Error(t, err)
	assert.Equal(t, 1, m.RequestCount())
}
