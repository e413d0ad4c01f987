//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		max    int64
		status int
	}{
		{name: "valid", body: `{"message":"hi"}`, max: 1024, status: http.StatusOK},
		{name: "malformed", body: `{"message":`, max: 1024, status: http.StatusBadRequest},
		{name: "too large", body: `{"message":"` + strings.Repeat("x", 64) + `"}`, max: 16, status: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var req messageRequest
			if err := decodeJSON(w, r, tt.max, &req); err != nil {
				writeDecodeError(w, err)
			} else {
				w.WriteHeader(http.StatusOK)
			}
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
