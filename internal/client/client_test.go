package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llamaworker/internal/llama"
	"llamaworker/internal/worker"
)

func startWorkerAndClient(t *testing.T) *Client {
	t.Helper()
	in := make(chan *worker.Control)
	out := make(chan *worker.Response, 16)
	w := worker.New(in, out, nil)
	go w.Run()
	c := New(in, out)
	t.Cleanup(func() {
		c.Exit()
		c.Close()
	})
	return c
}

func TestClientFreeModelUnknownHandle(t *testing.T) {
	c := startWorkerAndClient(t)
	err := c.FreeModel(12345)
	require.Error(t, err)
}

func TestClientLoadModelSurfacesStubFailure(t *testing.T) {
	c := startWorkerAndClient(t)
	var progressCalls int
	_, err := c.LoadModel("/nonexistent.gguf", llama.DefaultModelParams(), func(float32) { progressCalls++ })
	require.Error(t, err)
}

func TestClientConcurrentCallsCorrelateIndependently(t *testing.T) {
	c := startWorkerAndClient(t)
	done := make(chan error, 2)
	go func() { done <- c.FreeModel(1) }()
	go func() { done <- c.FreeModel(2) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent FreeModel calls")
		}
	}
}

func TestChatTemplateRendersDefaultTemplate(t *testing.T) {
	tpl, err := NewChatTemplate("")
	require.NoError(t, err)

	out, err := tpl.Render([]ChatMessage{
		{Role: RoleSystem, Content: "You are terse."},
		{Role: RoleUser, Content: "Hi"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "You are terse.")
	assert.Contains(t, out, "User: Hi")
	assert.Contains(t, out, "Assistant:")
}
