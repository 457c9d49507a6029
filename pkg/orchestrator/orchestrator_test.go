package orchestrator

import "testing"

func TestOrchestratorNewSessionRegistersAndCountsActive(t *testing.T) {
	metrics := NewMetrics(nil)
	o := New(&fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{}, metrics, DefaultConfig(), &NoOpLogger{})

	sink := &eventSink{}
	s := o.NewSession("user1", sink.emit)
	defer o.EndSession(s.ID)

	if _, ok := o.Registry().Get(s.ID); !ok {
		t.Fatalf("expected new session registered")
	}
	if o.Registry().Count() != 1 {
		t.Errorf("expected registry count 1, got %d", o.Registry().Count())
	}
}

func TestOrchestratorEndSessionRemovesFromRegistry(t *testing.T) {
	o := New(&fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{}, nil, DefaultConfig(), &NoOpLogger{})

	sink := &eventSink{}
	s := o.NewSession("user1", sink.emit)
	o.EndSession(s.ID)

	if _, ok := o.Registry().Get(s.ID); ok {
		t.Errorf("expected session removed after EndSession")
	}
}

func TestOrchestratorEndSessionIsSafeWhenUnknown(t *testing.T) {
	o := New(&fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{}, nil, DefaultConfig(), &NoOpLogger{})
	o.EndSession("does-not-exist") // must not panic
}

func TestOrchestratorProvidersReportsConfiguredNames(t *testing.T) {
	o := New(&fakeTranscriberProvider{}, &fakeResponder{reply: "ok"}, &fakeSynthesizer{}, nil, DefaultConfig(), &NoOpLogger{})
	providers := o.Providers()

	if providers["transcriber"] != "fake-transcriber-provider" {
		t.Errorf("unexpected transcriber provider name: %q", providers["transcriber"])
	}
	if providers["llm"] != "fake-responder" {
		t.Errorf("unexpected llm provider name: %q", providers["llm"])
	}
	if providers["tts"] != "fake-synth" {
		t.Errorf("unexpected tts provider name: %q", providers["tts"])
	}
}

func TestOrchestratorProvidersOmitsNilSynthesizer(t *testing.T) {
	o := New(&fakeTranscriberProvider{}, &fakeResponder{}, nil, nil, DefaultConfig(), &NoOpLogger{})
	providers := o.Providers()
	if _, ok := providers["tts"]; ok {
		t.Errorf("expected no tts entry when synthesizer is nil, got %q", providers["tts"])
	}
}

func TestOrchestratorUpdateConfigAffectsOnlyNewSessions(t *testing.T) {
	o := New(&fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{}, nil, DefaultConfig(), &NoOpLogger{})

	sink := &eventSink{}
	existing := o.NewSession("user1", sink.emit)
	defer o.EndSession(existing.ID)

	updated := DefaultConfig()
	updated.HistoryWindowTurns = 42
	o.UpdateConfig(updated)

	if o.Config().HistoryWindowTurns != 42 {
		t.Errorf("expected UpdateConfig to take effect, got %d", o.Config().HistoryWindowTurns)
	}
	if existing.cfg.HistoryWindowTurns != DefaultConfig().HistoryWindowTurns {
		t.Errorf("expected existing session to keep its original config, got %d", existing.cfg.HistoryWindowTurns)
	}
}

func TestOrchestratorShutdownDrainsRegistry(t *testing.T) {
	o := New(&fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{}, nil, DefaultConfig(), &NoOpLogger{})

	sink := &eventSink{}
	o.NewSession("user1", sink.emit)
	o.NewSession("user2", sink.emit)

	o.Shutdown()

	if o.Registry().Count() != 0 {
		t.Errorf("expected registry drained after Shutdown, got count=%d", o.Registry().Count())
	}
}
