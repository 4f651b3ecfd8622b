package worker

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"llamaworker/internal/engine"
	"llamaworker/internal/llama"
)

// Worker is the single-threaded executor that owns every native handle.
// Run must be called from exactly one goroutine; every native call it
// makes happens on that goroutine, and its registry needs no locking as
// a result.
type Worker struct {
	inbound  <-chan *Control
	outbound chan<- *Response
	reg      *registry
	log      *logrus.Entry
}

// New builds a worker reading controls from inbound and writing responses
// to outbound. Both channels are owned by the caller (typically the
// client façade, which also does the buffering/fan-out).
func New(inbound <-chan *Control, outbound chan<- *Response, log *logrus.Entry) *Worker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{inbound: inbound, outbound: outbound, reg: newRegistry(), log: log.WithField("component", "worker")}
}

// Run processes controls until it receives Exit, then emits Exit-done and
// returns. It should be launched with `go w.Run()`.
func (w *Worker) Run() {
	llama.BackendInit()
	defer llama.BackendFree()

	for c := range w.inbound {
		if c.Kind == ControlExit {
			w.outbound <- &Response{ID: c.ID, Kind: ResponseExitDone}
			return
		}
		w.dispatch(c)
	}
}

// dispatch runs one control's handler under a log entry tagged with a
// fresh trace id, so the log lines one request produces (a load's start
// and outcome, a failure) can be grepped together. The trace id is purely
// a log-correlation aid, distinct from the request id that the wire
// protocol actually correlates on.
func (w *Worker) dispatch(c *Control) {
	outer := w.log
	w.log = w.log.WithField("trace", uuid.NewString())
	defer func() { w.log = outer }()

	switch c.Kind {
	case ControlLoadModel:
		w.handleLoadModel(c)
	case ControlFreeModel:
		w.handleFreeModel(c)
	case ControlNewContext:
		w.handleNewContext(c)
	case ControlFreeContext:
		w.handleFreeContext(c)
	case ControlTokenize:
		w.handleTokenize(c)
	case ControlEdit:
		w.handleEdit(c)
	case ControlIngest:
		w.handleIngest(c)
	case ControlGenerate:
		w.handleGenerate(c)
	default:
		w.log.Errorf("unknown control kind %d for request %d", c.Kind, c.ID)
	}
}

func (w *Worker) handleLoadModel(c *Control) {
	w.log.Infof("loading model %s", c.ModelPath)
	progress := func(fraction float32) {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseLoadModelProgress, Progress: fraction}
	}
	native, err := llama.LoadModel(c.ModelPath, c.ModelParams, uint32(c.ID), progress)
	if err != nil {
		w.log.Errorf("load model %s failed: %v", c.ModelPath, err)
		w.outbound <- &Response{ID: c.ID, Kind: ResponseLoadModelDone, Err: engine.Classify(err)}
		return
	}
	m := w.reg.addModel(native)
	w.log.Infof("model %s loaded as handle %d", c.ModelPath, m.id)
	w.outbound <- &Response{ID: c.ID, Kind: ResponseLoadModelDone, ModelHandle: m.id}
}

func (w *Worker) handleFreeModel(c *Control) {
	if err := w.reg.removeModel(c.Handle); err != nil {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseFreeModelDone, Err: engine.Classify(err)}
		return
	}
	w.outbound <- &Response{ID: c.ID, Kind: ResponseFreeModelDone}
}

func (w *Worker) handleNewContext(c *Control) {
	m, ok := w.reg.model(c.ModelHandle)
	if !ok {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseNewContextDone, Err: &engine.Error{Kind: engine.UnknownHandle, Message: "unknown model handle"}}
		return
	}
	native, err := m.native.NewContext(c.ContextParams)
	if err != nil {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseNewContextDone, Err: engine.Classify(err)}
		return
	}
	state := engine.NewContextState(0, 0, engine.WrapNative(native), c.ContextParams.ContextSize, c.ContextParams.BatchSize)
	w.reg.addContext(c.ModelHandle, state)
	w.outbound <- &Response{ID: c.ID, Kind: ResponseNewContextDone, ContextHandle: state.ID}
}

func (w *Worker) handleFreeContext(c *Control) {
	if err := w.reg.removeContext(c.Handle); err != nil {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseFreeContextDone, Err: engine.Classify(err)}
		return
	}
	w.outbound <- &Response{ID: c.ID, Kind: ResponseFreeContextDone}
}

func (w *Worker) handleTokenize(c *Control) {
	state, ok := w.reg.context(c.ContextHandle)
	if !ok {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseTokenizeDone, Err: &engine.Error{Kind: engine.UnknownHandle, Message: "unknown context handle"}}
		return
	}
	tokens, start, err := state.Tokenize(c.Text)
	if err != nil {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseTokenizeDone, Err: engine.Classify(err)}
		return
	}
	w.outbound <- &Response{ID: c.ID, Kind: ResponseTokenizeDone, Tokens: tokens, StartIndex: start}
}

func (w *Worker) handleEdit(c *Control) {
	state, ok := w.reg.context(c.ContextHandle)
	if !ok {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseEditDone, Err: &engine.Error{Kind: engine.UnknownHandle, Message: "unknown context handle"}}
		return
	}
	if err := state.Edit(c.NewLength); err != nil {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseEditDone, Err: engine.Classify(err)}
		return
	}
	w.outbound <- &Response{ID: c.ID, Kind: ResponseEditDone}
}

func (w *Worker) handleIngest(c *Control) {
	state, ok := w.reg.context(c.ContextHandle)
	if !ok {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseIngestDone, Err: &engine.Error{Kind: engine.UnknownHandle, Message: "unknown context handle"}}
		return
	}
	cancel := make(chan struct{}, 1)
	w.outbound <- &Response{ID: c.ID, Kind: ResponseIngestHandshake, Cancel: cancel}

	cancelled, err := engine.Ingest(state, cancel)
	if cancelled {
		return
	}
	if err != nil {
		w.log.Errorf("ingest on context %d failed: %v", c.ContextHandle, err)
		w.outbound <- &Response{ID: c.ID, Kind: ResponseIngestDone, Err: engine.Classify(err)}
		return
	}
	w.outbound <- &Response{ID: c.ID, Kind: ResponseIngestDone}
}

func (w *Worker) handleGenerate(c *Control) {
	state, ok := w.reg.context(c.ContextHandle)
	if !ok {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseGenerateDone, Err: &engine.Error{Kind: engine.UnknownHandle, Message: "unknown context handle"}}
		return
	}
	cancel := make(chan struct{}, 1)
	w.outbound <- &Response{ID: c.ID, Kind: ResponseGenerateHandshake, Cancel: cancel}

	onToken := func(tok llama.Token) {
		w.outbound <- &Response{ID: c.ID, Kind: ResponseGenerateToken, Token: tok}
	}
	cancelled, err := engine.Generate(state, c.Samplers, cancel, onToken)
	if cancelled {
		return
	}
	if err != nil {
		w.log.Errorf("generate on context %d failed: %v", c.ContextHandle, err)
		w.outbound <- &Response{ID: c.ID, Kind: ResponseGenerateDone, Err: engine.Classify(err)}
		return
	}
	w.outbound <- &Response{ID: c.ID, Kind: ResponseGenerateDone}
}
