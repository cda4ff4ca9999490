package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPost_SendsHeadersAndBody(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"reply_text":"hi"}`)
	}))
	defer srv.Close()

	c := New(Options{Timeout: 5 * time.Second})
	resp, err := c.Post(context.Background(), srv.URL+"/chat/start", map[string]string{
		"Authorization": "Bearer x",
		"Content-Type":  "application/json",
	}, []byte(`{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/chat/start", gotPath)
	assert.Equal(t, "Bearer x", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"a":1}`, string(gotBody))

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Equal(t, `{"reply_text":"hi"}`, string(resp.Body))
}

func TestPost_NonSuccessStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := New(Options{}).Post(context.Background(), srv.URL, nil, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestPost_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Options{Timeout: time.Second}).Post(context.Background(), url, nil, []byte("{}"))
	assert.Error(t, err)
}

func TestPost_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Options{Timeout: 50 * time.Millisecond}).Post(context.Background(), srv.URL, nil, []byte("{}"))
	assert.Error(t, err)
}

func TestPost_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Post(ctx, "http://127.0.0.1:1", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	c := New(Options{Timeout: time.Second})
	assert.NoError(t, c.Probe(context.Background(), srv.URL), "any response means reachable")

	srv.Close()
	assert.Error(t, c.Probe(context.Background(), srv.URL))
}
