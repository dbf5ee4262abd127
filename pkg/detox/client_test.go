package detox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toxipipe/internal/model"
)

func scoreBody(tox float64) string {
	b, _ := json.Marshal(map[string]float64{
		"toxicity":        tox,
		"severe_toxicity": 0.12,
		"obscene":         0.23,
		"threat":          0.08,
		"insult":          0.78,
		"identity_attack": 0.05,
	})
	return string(b)
}

func TestScore_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "some cleaned text", req["text"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(scoreBody(0.85)))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	vec, err := c.Score(context.Background(), "some cleaned text")

	require.NoError(t, err)
	assert.InDelta(t, 0.85, vec.Toxicity, 1e-9)
	assert.InDelta(t, 0.05, vec.IdentityAttack, 1e-9)
}

func TestScore_EmptyTextIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"toxicity":0.01,"severe_toxicity":0,"obscene":0,"threat":0,"insult":0,"identity_attack":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	vec, err := c.Score(context.Background(), "")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, vec.Toxicity, 1e-9)
}

func TestScore_MissingDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// identity_attack absent: must be a hard failure, not a zero fill.
		w.Write([]byte(`{"toxicity":0.9,"severe_toxicity":0.1,"obscene":0.1,"threat":0.1,"insult":0.1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Score(context.Background(), "text")

	require.Error(t, err)
	var oe *model.OracleError
	require.True(t, errors.As(err, &oe))
	assert.False(t, oe.Transient)
	assert.Contains(t, err.Error(), "identity_attack")
}

func TestScore_OutOfRangeNotClamped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"toxicity":1.7,"severe_toxicity":0,"obscene":0,"threat":0,"insult":0,"identity_attack":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Score(context.Background(), "text")

	require.Error(t, err)
	assert.True(t, model.IsOracle(err))
	assert.Contains(t, err.Error(), "out of range")
}

func TestScore_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Score(context.Background(), "text")

	var oe *model.OracleError
	require.True(t, errors.As(err, &oe))
	assert.True(t, oe.Transient)
	assert.Equal(t, http.StatusServiceUnavailable, oe.StatusCode)
}

func TestScore_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Score(context.Background(), "text")

	var oe *model.OracleError
	require.True(t, errors.As(err, &oe))
	assert.False(t, oe.Transient)
}

func TestScore_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithTimeout(20*time.Millisecond))
	_, err := c.Score(context.Background(), "text")

	var oe *model.OracleError
	require.True(t, errors.As(err, &oe))
	assert.True(t, oe.Transient)
}

func TestScore_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, "")
	_, err := c.Score(ctx, "text")

	var oe *model.OracleError
	require.True(t, errors.As(err, &oe))
	assert.False(t, oe.Transient)
}
