package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llamaworker/internal/engine"
	"llamaworker/internal/llama"
)

// These tests run against the stub llama build (no llamacpp_cgo build
// tag): every native call fails with ErrNativeUnavailable, which is
// enough to exercise the worker's dispatch, registry bookkeeping, and
// response-id correlation without a linked libllama.

func startWorker(t *testing.T) (chan *Control, chan *Response) {
	t.Helper()
	in := make(chan *Control)
	out := make(chan *Response, 16)
	w := New(in, out, nil)
	go w.Run()
	t.Cleanup(func() {
		select {
		case in <- &Control{ID: NewRequestID(), Kind: ControlExit}:
		case <-time.After(time.Second):
		}
	})
	return in, out
}

func recvResponse(t *testing.T, out chan *Response) *Response {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func TestWorkerExit(t *testing.T) {
	in := make(chan *Control)
	out := make(chan *Response, 1)
	w := New(in, out, nil)
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	id := NewRequestID()
	in <- &Control{ID: id, Kind: ControlExit}
	resp := recvResponse(t, out)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, ResponseExitDone, resp.Kind)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not terminate after Exit")
	}
}

func TestWorkerFreeModelUnknownHandle(t *testing.T) {
	in, out := startWorker(t)
	id := NewRequestID()
	in <- &Control{ID: id, Kind: ControlFreeModel, Handle: 999}
	resp := recvResponse(t, out)
	assert.Equal(t, id, resp.ID)
	require.NotNil(t, resp.Err)
	assert.Equal(t, engine.UnknownHandle, resp.Err.Kind)
}

func TestWorkerNewContextUnknownModel(t *testing.T) {
	in, out := startWorker(t)
	id := NewRequestID()
	in <- &Control{ID: id, Kind: ControlNewContext, ModelHandle: 42, ContextParams: llama.DefaultContextParams()}
	resp := recvResponse(t, out)
	assert.Equal(t, id, resp.ID)
	require.NotNil(t, resp.Err)
	assert.Equal(t, engine.UnknownHandle, resp.Err.Kind)
}

func TestWorkerLoadModelSurfacesNativeFailure(t *testing.T) {
	in, out := startWorker(t)
	id := NewRequestID()
	in <- &Control{ID: id, Kind: ControlLoadModel, ModelPath: "/nonexistent.gguf", ModelParams: llama.DefaultModelParams()}
	resp := recvResponse(t, out)
	assert.Equal(t, id, resp.ID)
	require.NotNil(t, resp.Err)
}

func TestWorkerTokenizeUnknownContext(t *testing.T) {
	in, out := startWorker(t)
	id := NewRequestID()
	in <- &Control{ID: id, Kind: ControlTokenize, ContextHandle: 7, Text: "hello"}
	resp := recvResponse(t, out)
	assert.Equal(t, id, resp.ID)
	require.NotNil(t, resp.Err)
	assert.Equal(t, engine.UnknownHandle, resp.Err.Kind)
}

func TestRequestIDNeverZero(t *testing.T) {
	for i := 0; i < 1000; i++ {
		assert.NotEqual(t, RequestID(0), NewRequestID())
	}
}
