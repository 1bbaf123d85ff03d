package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withGroqServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	prevURL, prevWait := groqAPIURL, groqRetryWait
	SetGroqAPIURL(server.URL)
	groqRetryWait = func(int) time.Duration { return time.Millisecond }
	t.Cleanup(func() {
		server.Close()
		SetGroqAPIURL(prevURL)
		groqRetryWait = prevWait
	})
}

func groqReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func TestGroqGenerator_Generate(t *testing.T) {
	var got groqRequest
	withGroqServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		groqReply(w, `{"ok":true}`)
	})

	out, err := NewGroqGenerator("test-key", "llama-3.3-70b-versatile").Generate(context.Background(), "draft a plan", true)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "llama-3.3-70b-versatile", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.Equal(t, "draft a plan", got.Messages[0].Content)
}

func TestGroqGenerator_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	withGroqServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		groqReply(w, "plain text")
	})

	out, err := NewGroqGenerator("k", "m").Generate(context.Background(), "p", false)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGroqGenerator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"always rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }},
		{"server error", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "overloaded", http.StatusBadGateway) }},
		{"empty choices", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"choices":[]}`)) }},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`<html>`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withGroqServer(t, tt.handler)
			_, err := NewGroqGenerator("k", "m").Generate(context.Background(), "p", true)
			assert.Error(t, err)
		})
	}
}

func TestGroqGenerator_LocalRateLimit(t *testing.T) {
	withGroqServer(t, func(w http.ResponseWriter, r *http.Request) { groqReply(w, "ok") })
	g := NewGroqGenerator("k", "m")
	g.budget = newCallBudget(1, time.Minute)

	_, err := g.Generate(context.Background(), "p", false)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "p", false)
	assert.Error(t, err)
}

func TestNewTextGenerator(t *testing.T) {
	assert.IsType(t, DisabledGenerator{}, NewTextGenerator("", "m"))
	assert.IsType(t, &GroqGenerator{}, NewTextGenerator("key", "m"))

	_, err := DisabledGenerator{}.Generate(context.Background(), "p", true)
	assert.ErrorIs(t, err, ErrGenerationDisabled)
}
