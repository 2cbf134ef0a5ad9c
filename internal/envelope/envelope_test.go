package envelope

import (
	"encoding/json"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppID(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   int
		wantOK bool
	}{
		{"int", 2, 2, true},
		{"int64", int64(5), 5, true},
		{"uint64 from cbor", uint64(1), 1, true},
		{"integral float from json", float64(3), 3, true},
		{"fractional float", 1.5, 0, false},
		{"json number", json.Number("4"), 4, true},
		{"bad json number", json.Number("x"), 0, false},
		{"string", "1", 0, false},
		{"int64 beyond int32", int64(1) << 32, 0, false},
		{"int64 below int32", int64(math.MinInt32) - 1, 0, false},
		{"json number beyond int32", json.Number("4294967297"), 0, false},
		{"uint64 beyond int32", uint64(math.MaxInt32) + 1, 0, false},
		{"float beyond int32", float64(math.MaxInt32) + 1, 0, false},
		{"largest int32", json.Number("2147483647"), math.MaxInt32, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Env{AppIDKey: tt.value}.AppID()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := Env{}.AppID()
	assert.False(t, ok, "missing key must not yield an id")
}

func TestStatusCodeDefaults(t *testing.T) {
	assert.Equal(t, http.StatusOK, Env{}.StatusCode())
	assert.Equal(t, http.StatusTeapot, Env{ResponseStatusCode: 418}.StatusCode())
	assert.Equal(t, http.StatusNotFound, Env{ResponseStatusCode: float64(404)}.StatusCode())
}

func TestFlattenHeadersKeepsFirstValue(t *testing.T) {
	got := FlattenHeaders(map[string][]string{
		"Content-Type": {"text/html", "text/plain"},
		"X-Empty":      {},
		"X-One":        {"1"},
	})
	assert.Equal(t, map[string]string{"Content-Type": "text/html", "X-One": "1"}, got)
}

func TestHeaderValues(t *testing.T) {
	h := HeaderValues(map[string]any{
		"Accept": []any{"text/html", "application/json"},
		"Host":   "example.test",
	})
	assert.Equal(t, []string{"text/html", "application/json"}, h["Accept"])
	assert.Equal(t, []string{"example.test"}, h["Host"])

	assert.Empty(t, HeaderValues(nil))
	assert.Equal(t, []string{"v"}, HeaderValues(map[string]string{"K": "v"})["K"])
}

func TestIsResponseKey(t *testing.T) {
	assert.True(t, IsResponseKey(ResponseBody))
	assert.True(t, IsResponseKey(ResponseStatusCode))
	assert.False(t, IsResponseKey(RequestBody))
	assert.False(t, IsResponseKey(AppIDKey))
	assert.False(t, IsResponseKey(HostPrefix+"callback"))
}
