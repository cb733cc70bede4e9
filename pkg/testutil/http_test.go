package testutil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyIsRepeatable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"DISPATCHED"}`))
	})

	rr := DoRequest(handler, NewRequest(t, http.MethodGet, "/v1/ping"))

	first := ReadBody(t, rr)
	second := ReadBody(t, rr)
	assert.JSONEq(t, `{"status":"DISPATCHED"}`, string(first))
	assert.Equal(t, first, second)

	// Decoding after a raw read still sees the full body.
	type payload struct {
		Status string `json:"status"`
	}
	decoded := UnmarshalResponse[payload](t, rr)
	require.NotNil(t, decoded)
	assert.Equal(t, "DISPATCHED", decoded.Status)
}
