package worker

import (
	"llamaworker/internal/engine"
	"llamaworker/internal/llama"
)

// modelState is the worker's record of one loaded model: the native
// handle plus the small opaque integer id clients address it by.
type modelState struct {
	id     uint64
	native *llama.Model
}

// registry holds every model and context the worker currently owns. Ids
// are small opaque integers assigned by the worker, never native
// addresses. It is only ever touched from the worker's own goroutine, so
// it needs no locking.
type registry struct {
	nextID           uint64
	models           map[uint64]*modelState
	contexts         map[uint64]*engine.ContextState
	contextsForModel map[uint64]map[uint64]struct{}
}

func newRegistry() *registry {
	return &registry{
		nextID:           1,
		models:           make(map[uint64]*modelState),
		contexts:         make(map[uint64]*engine.ContextState),
		contextsForModel: make(map[uint64]map[uint64]struct{}),
	}
}

func (r *registry) allocID() uint64 {
	id := r.nextID
	r.nextID++
	return id
}

func (r *registry) addModel(native *llama.Model) *modelState {
	m := &modelState{id: r.allocID(), native: native}
	r.models[m.id] = m
	r.contextsForModel[m.id] = make(map[uint64]struct{})
	return m
}

func (r *registry) model(handle uint64) (*modelState, bool) {
	m, ok := r.models[handle]
	return m, ok
}

// removeModel fails with HandleStillReferenced if any context still
// references it.
func (r *registry) removeModel(handle uint64) error {
	m, ok := r.models[handle]
	if !ok {
		return &engine.Error{Kind: engine.UnknownHandle, Message: "unknown model handle"}
	}
	if len(r.contextsForModel[handle]) > 0 {
		return &engine.Error{Kind: engine.HandleStillReferenced, Message: "model still referenced by a live context"}
	}
	m.native.Free()
	delete(r.models, handle)
	delete(r.contextsForModel, handle)
	return nil
}

func (r *registry) addContext(modelHandle uint64, state *engine.ContextState) {
	state.ID = r.allocID()
	state.ModelID = modelHandle
	r.contexts[state.ID] = state
	r.contextsForModel[modelHandle][state.ID] = struct{}{}
}

func (r *registry) context(handle uint64) (*engine.ContextState, bool) {
	c, ok := r.contexts[handle]
	return c, ok
}

func (r *registry) removeContext(handle uint64) error {
	c, ok := r.contexts[handle]
	if !ok {
		return &engine.Error{Kind: engine.UnknownHandle, Message: "unknown context handle"}
	}
	c.Free()
	delete(r.contexts, handle)
	delete(r.contextsForModel[c.ModelID], handle)
	return nil
}
