package advice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		var req map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 5000.0, req["income"])
		assert.Equal(t, 3000.0, req["expense"])

		json.NewEncoder(w).Encode(map[string]float64{"prediction": 2000})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	savings, err := c.Predict(context.Background(), decimal.NewFromInt(5000), decimal.NewFromInt(3000))
	require.NoError(t, err)
	assert.True(t, savings.Equal(decimal.NewFromInt(2000)))
}

func TestPredict_Unreachable(t *testing.T) {
	// A closed server: the port refuses connections.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Predict(context.Background(), decimal.NewFromInt(1000), decimal.NewFromInt(500))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestPredict_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	_, err := c.Predict(context.Background(), decimal.NewFromInt(1000), decimal.NewFromInt(500))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestPredict_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	_, err := c.Predict(context.Background(), decimal.NewFromInt(1000), decimal.NewFromInt(500))
	assert.ErrorIs(t, err, ErrUpstream)
}
