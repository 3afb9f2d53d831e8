package httputil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	u, _ := url.Parse("http://device/status")
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Request:    &http.Request{URL: u},
	}
}

func TestReadJSON(t *testing.T) {
	t.Run("decodes body", func(t *testing.T) {
		var v map[string]string
		require.NoError(t, ReadJSON(response(http.StatusOK, `{"state":"moving"}`), &v))
		assert.Equal(t, "moving", v["state"])
	})

	t.Run("empty body", func(t *testing.T) {
		v := map[string]string{"keep": "me"}
		require.NoError(t, ReadJSON(response(http.StatusOK, ""), &v))
		assert.Equal(t, "me", v["keep"])
	})

	t.Run("bad status", func(t *testing.T) {
		err := ReadJSON(response(http.StatusServiceUnavailable, "busy"), nil)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
		assert.Contains(t, err.Error(), "http://device/status")
	})

	t.Run("invalid json", func(t *testing.T) {
		var v map[string]string
		assert.Error(t, ReadJSON(response(http.StatusOK, "{not json"), &v))
	})
}

func TestReadBody(t *testing.T) {
	data, err := ReadBody(response(http.StatusOK, "jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	_, err = ReadBody(response(http.StatusNotFound, ""))
	assert.Error(t, err)
}
