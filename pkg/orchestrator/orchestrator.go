package orchestrator

import (
	"sync"
)

// Orchestrator is the top-level, process-wide wiring: the shared
// upstream adapters (TranscriberProvider, Responder, Synthesizer), the
// ConversationStore, the session Registry, and the Config every new
// Session is constructed with. It owns no per-session state itself —
// that lives on Session — holding only the stt/llm/tts collaborators
// and constructing and registering many Sessions against them.
type Orchestrator struct {
	transcriberProvider TranscriberProvider
	responder           Responder
	synthesizer         Synthesizer

	store    *ConversationStore
	registry *Registry
	metrics  *Metrics

	cfg    Config
	logger Logger

	mu sync.RWMutex
}

// New constructs an Orchestrator. synthesizer may be nil: TBIC then
// treats text-to-speech as unavailable and emits tts-unavailable instead
// of failing. metrics may also be nil, in which case counters are
// silently skipped.
func New(transcriberProvider TranscriberProvider, responder Responder, synthesizer Synthesizer, metrics *Metrics, cfg Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		transcriberProvider: transcriberProvider,
		responder:           responder,
		synthesizer:         synthesizer,
		store:               NewConversationStore(),
		registry:            NewRegistry(),
		metrics:             metrics,
		cfg:                 cfg,
		logger:              logger,
	}
}

// Store exposes the shared ConversationStore, for reads that act outside
// any single session's serialized loop (the transport's
// get-conversation-stats handler).
func (o *Orchestrator) Store() *ConversationStore { return o.store }

// Registry exposes the shared session Registry, for health/status/
// sessions HTTP endpoints and graceful shutdown.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Config returns a copy of the orchestrator's current tunables.
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// UpdateConfig replaces the tunables used for sessions created
// afterward. Sessions already running keep the Config they were built
// with.
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
}

// Providers reports the name of each configured upstream adapter, for
// the startup log line in cmd/server.
func (o *Orchestrator) Providers() map[string]string {
	out := map[string]string{}
	if o.transcriberProvider != nil {
		out["transcriber"] = o.transcriberProvider.Name()
	}
	if o.responder != nil {
		out["llm"] = o.responder.Name()
	}
	if o.synthesizer != nil {
		out["tts"] = o.synthesizer.Name()
	}
	return out
}

// NewSession constructs a Session bound to this orchestrator's shared
// collaborators, registers it, and returns it. emit delivers
// OutboundEvents to whatever transport owns the new session.
func (o *Orchestrator) NewSession(userID string, emit func(OutboundEvent)) *Session {
	cfg := o.Config()
	s := NewSession(userID, cfg.Language, cfg, o.logger, o.store, o.transcriberProvider, o.responder, o.synthesizer, o.metrics, emit)
	o.registry.Put(s)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.registry.Count()))
	}
	return s
}

// EndSession stops a session and removes it from the registry. Safe to
// call more than once for the same id.
func (o *Orchestrator) EndSession(id string) {
	s, ok := o.registry.Get(id)
	if !ok {
		return
	}
	s.Stop()
	o.registry.Delete(id)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.registry.Count()))
	}
}

// Shutdown drains every registered session, for graceful server stop.
func (o *Orchestrator) Shutdown() {
	o.registry.Drain()
}
