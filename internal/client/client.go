// Package client implements the public request-response surface layered
// over the worker's message queues: single-reply promises for
// Load/Free/Tokenize/Edit, and handshake-then-stream-then-terminal
// sequences for Ingest/Generate.
package client

import (
	"fmt"

	"llamaworker/internal/llama"
	"llamaworker/internal/sampler"
	"llamaworker/internal/worker"
)

// Client correlates responses from a single Worker's outbound channel
// back to the caller that issued the matching request id. One Client
// should front exactly one Worker; concurrent callers may share a Client
// safely — correlation is keyed by request id, and the control channel
// send is the only point of contention, serialized by the worker's own
// inbound channel.
type Client struct {
	in  chan<- *worker.Control
	out <-chan *worker.Response

	pending chan *pendingRegistration
	stop    chan struct{}

	waiters map[worker.RequestID]chan *worker.Response
	streams map[worker.RequestID]chan *worker.Response
}

type pendingRegistration struct {
	id     worker.RequestID
	ch     chan *worker.Response
	stream bool
}

// New starts a Client's dispatch loop, routing every Response from out to
// whichever caller registered interest in its id.
func New(in chan<- *worker.Control, out <-chan *worker.Response) *Client {
	c := &Client{
		in:      in,
		out:     out,
		pending: make(chan *pendingRegistration),
		stop:    make(chan struct{}),
		waiters: make(map[worker.RequestID]chan *worker.Response),
		streams: make(map[worker.RequestID]chan *worker.Response),
	}
	go c.dispatchLoop()
	return c
}

// Close stops the dispatch loop. It does not send Exit to the worker;
// callers that own the worker lifecycle do that separately.
func (c *Client) Close() {
	close(c.stop)
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.stop:
			return
		case reg := <-c.pending:
			if reg.stream {
				c.streams[reg.id] = reg.ch
			} else {
				c.waiters[reg.id] = reg.ch
			}
		case resp, ok := <-c.out:
			if !ok {
				return
			}
			c.route(resp)
		}
	}
}

func (c *Client) route(resp *worker.Response) {
	if ch, ok := c.waiters[resp.ID]; ok {
		ch <- resp
		delete(c.waiters, resp.ID)
		return
	}
	if ch, ok := c.streams[resp.ID]; ok {
		ch <- resp
		if resp.Kind == worker.ResponseIngestDone || resp.Kind == worker.ResponseGenerateDone {
			delete(c.streams, resp.ID)
			close(ch)
		}
	}
}

func (c *Client) registerWaiter(id worker.RequestID) chan *worker.Response {
	ch := make(chan *worker.Response, 1)
	c.pending <- &pendingRegistration{id: id, ch: ch}
	return ch
}

func (c *Client) registerStream(id worker.RequestID) chan *worker.Response {
	ch := make(chan *worker.Response, 8)
	c.pending <- &pendingRegistration{id: id, ch: ch, stream: true}
	return ch
}

func asError(resp *worker.Response) error {
	if resp.Err == nil {
		return nil
	}
	return resp.Err
}

// LoadModel loads model weights from path. onProgress, if non-nil, is
// called for every interleaved progress event before the terminal
// done/error.
func (c *Client) LoadModel(path string, params llama.ModelParams, onProgress func(fraction float32)) (uint64, error) {
	id := worker.NewRequestID()
	ch := c.registerStream(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlLoadModel, ModelPath: path, ModelParams: params}

	for resp := range ch {
		switch resp.Kind {
		case worker.ResponseLoadModelProgress:
			if onProgress != nil {
				onProgress(resp.Progress)
			}
		case worker.ResponseLoadModelDone:
			if err := asError(resp); err != nil {
				return 0, err
			}
			return resp.ModelHandle, nil
		}
	}
	return 0, fmt.Errorf("client: worker closed before LoadModel completed")
}

// FreeModel releases a loaded model. Fails with HandleStillReferenced if
// any context still references it.
func (c *Client) FreeModel(handle uint64) error {
	id := worker.NewRequestID()
	ch := c.registerWaiter(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlFreeModel, Handle: handle}
	resp := <-ch
	return asError(resp)
}

// NewContext creates an inference context bound to modelHandle.
func (c *Client) NewContext(modelHandle uint64, params llama.ContextParams) (uint64, error) {
	id := worker.NewRequestID()
	ch := c.registerWaiter(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlNewContext, ModelHandle: modelHandle, ContextParams: params}
	resp := <-ch
	if err := asError(resp); err != nil {
		return 0, err
	}
	return resp.ContextHandle, nil
}

// FreeContext releases a context and its native resources.
func (c *Client) FreeContext(handle uint64) error {
	id := worker.NewRequestID()
	ch := c.registerWaiter(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlFreeContext, Handle: handle}
	resp := <-ch
	return asError(resp)
}

// Tokenize appends tokens decoded from text to a context's token buffer.
func (c *Client) Tokenize(contextHandle uint64, text string) ([]llama.Token, int, error) {
	id := worker.NewRequestID()
	ch := c.registerWaiter(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlTokenize, ContextHandle: contextHandle, Text: text}
	resp := <-ch
	if err := asError(resp); err != nil {
		return nil, 0, err
	}
	return resp.Tokens, resp.StartIndex, nil
}

// Edit truncates a context's token/logits buffers to newLength (nil is a
// no-op).
func (c *Client) Edit(contextHandle uint64, newLength *int) error {
	id := worker.NewRequestID()
	ch := c.registerWaiter(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlEdit, ContextHandle: contextHandle, NewLength: newLength}
	resp := <-ch
	return asError(resp)
}

// Stream is a cancellable handle to an in-flight Ingest or Generate call.
// Cancel may be called at most once; calling it after the stream has
// already finished is a harmless no-op.
type Stream struct {
	cancel chan<- struct{}
}

// Cancel signals the worker to abandon this call at its next cooperative
// yield point. No terminal done/error follows a cancelled call.
func (s *Stream) Cancel() {
	if s.cancel == nil {
		return
	}
	select {
	case s.cancel <- struct{}{}:
	default:
	}
}

// Ingest advances a context's logits buffer up to its token buffer length.
// It blocks until Ingest-done or the returned error. onHandshake, if
// non-nil, is called with the call's Stream as soon as the worker
// acknowledges it — before Ingest blocks waiting for completion — so a
// caller on another goroutine can Cancel an in-flight ingest.
func (c *Client) Ingest(contextHandle uint64, onHandshake func(*Stream)) error {
	id := worker.NewRequestID()
	ch := c.registerStream(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlIngest, ContextHandle: contextHandle}

	for resp := range ch {
		switch resp.Kind {
		case worker.ResponseIngestHandshake:
			if onHandshake != nil {
				onHandshake(&Stream{cancel: resp.Cancel})
			}
		case worker.ResponseIngestDone:
			return asError(resp)
		}
	}
	return nil
}

// Generate runs the sampler chain until EOS, context-size exhaustion, or
// cancellation, calling onToken for every emitted token. onHandshake, if
// non-nil, is called with the call's Stream as soon as the worker
// acknowledges it — before Generate blocks streaming tokens — so a caller
// on another goroutine can Cancel an in-flight generation.
func (c *Client) Generate(contextHandle uint64, chain *sampler.Chain, onHandshake func(*Stream), onToken func(llama.Token)) error {
	id := worker.NewRequestID()
	ch := c.registerStream(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlGenerate, ContextHandle: contextHandle, Samplers: chain}

	for resp := range ch {
		switch resp.Kind {
		case worker.ResponseGenerateHandshake:
			if onHandshake != nil {
				onHandshake(&Stream{cancel: resp.Cancel})
			}
		case worker.ResponseGenerateToken:
			if onToken != nil {
				onToken(resp.Token)
			}
		case worker.ResponseGenerateDone:
			return asError(resp)
		}
	}
	return nil
}

// Exit asks the worker to shut down after its current control finishes.
func (c *Client) Exit() {
	id := worker.NewRequestID()
	ch := c.registerWaiter(id)
	c.in <- &worker.Control{ID: id, Kind: worker.ControlExit}
	<-ch
}
