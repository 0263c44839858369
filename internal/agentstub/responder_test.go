package agentstub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-agent/internal/audio"
)

func TestCerebrasResponder_SendsHistory(t *testing.T) {
	var got chatCompletionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(chatCompletionsResponse{Choices: []chatChoice{{Message: Exchange{Role: "assistant", Content: "  sure  "}}}})
	}))
	defer srv.Close()

	c := NewCerebrasResponder("key", "")
	c.Endpoint = srv.URL
	reply, err := c.Reply(context.Background(), []Exchange{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}}, "c")
	require.NoError(t, err)
	assert.Equal(t, "sure", reply)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "c", got.Messages[3].Content)
}

func TestCerebrasResponder_Errors(t *testing.T) {
	_, err := NewCerebrasResponder("", "").Reply(context.Background(), nil, "x")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := NewCerebrasResponder("key", "m")
	c.Endpoint = srv.URL
	_, err = c.Reply(context.Background(), nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}

func TestToneSynthesizer(t *testing.T) {
	syn := ToneSynthesizer{Format: audio.DefaultFormat()}
	wav, err := syn.Synthesize("")
	require.NoError(t, err)
	assert.Empty(t, wav)

	wav, err = syn.Synthesize("one two")
	require.NoError(t, err)
	pcm, f, ok := audio.DecodeWAV(wav)
	require.True(t, ok)
	assert.Equal(t, minTone, audio.PCMDuration(len(pcm), f))
	assert.True(t, audio.HasVoice(pcm))
}
