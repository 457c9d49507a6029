package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeTranscriber struct {
	mu     sync.Mutex
	pushed [][]byte
	closed bool
	events TranscriberEvents
}

func (f *fakeTranscriber) Push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, frame)
}

func (f *fakeTranscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeTranscriberProvider struct {
	mu       sync.Mutex
	opened   []*fakeTranscriber
	openErr  error
}

func (p *fakeTranscriberProvider) Open(ctx context.Context, lang Language, sampleRate int, events TranscriberEvents) (Transcriber, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	tr := &fakeTranscriber{events: events}
	p.mu.Lock()
	p.opened = append(p.opened, tr)
	p.mu.Unlock()
	return tr, nil
}

func (p *fakeTranscriberProvider) Name() string { return "fake-transcriber-provider" }

func (p *fakeTranscriberProvider) last() *fakeTranscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.opened) == 0 {
		return nil
	}
	return p.opened[len(p.opened)-1]
}

func loudFrame(ts int64) AudioFrame {
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 20000
		} else {
			samples[i] = -20000
		}
	}
	return AudioFrame{Timestamp: ts, Samples: samples, SampleRate: 16000, Channels: 1}
}

func quietFrame(ts int64) AudioFrame {
	return AudioFrame{Timestamp: ts, Samples: make([]int16, 160), SampleRate: 16000, Channels: 1}
}

func newTestSession(provider TranscriberProvider, responder Responder, synthesizer Synthesizer) (*Session, *eventSink) {
	sink := &eventSink{}
	s := NewSession("user1", LanguageEnUS, DefaultConfig(), &NoOpLogger{}, NewConversationStore(), provider, responder, synthesizer, nil, sink.emit)
	return s, sink
}

func TestSessionOpensTranscriberOnVoiceBurst(t *testing.T) {
	provider := &fakeTranscriberProvider{}
	s, _ := newTestSession(provider, &fakeResponder{reply: "ok"}, &fakeSynthesizer{})
	defer s.Stop()

	s.StartProcessing()

	now := int64(0)
	for i := 0; i < 3; i++ {
		now += 20
		s.PushFrame(loudFrame(now))
	}

	deadline := time.Now().Add(time.Second)
	for provider.last() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if provider.last() == nil {
		t.Fatal("expected a Transcriber to be opened after 3 consecutive voice frames")
	}
}

func TestSessionIgnoresFramesWhenNotProcessing(t *testing.T) {
	provider := &fakeTranscriberProvider{}
	s, _ := newTestSession(provider, &fakeResponder{}, &fakeSynthesizer{})
	defer s.Stop()

	for i := 0; i < 5; i++ {
		s.PushFrame(loudFrame(int64(i * 20)))
	}

	time.Sleep(20 * time.Millisecond)
	if provider.last() != nil {
		t.Error("expected no Transcriber opened before StartProcessing")
	}
}

func TestSessionStopProcessingIsIdempotent(t *testing.T) {
	s, sink := newTestSession(&fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{})
	defer s.Stop()

	s.StartProcessing()
	s.StopProcessing()
	s.StopProcessing() // must not emit a second processing-stopped

	time.Sleep(20 * time.Millisecond)
	if n := sink.count(EventProcessingStopped); n != 1 {
		t.Errorf("expected exactly one processing-stopped event, got %d", n)
	}
}

func TestSessionGetHistoryReflectsStore(t *testing.T) {
	store := NewConversationStore()
	store.Append("user1", RoleUser, "hi", 1)

	sink := &eventSink{}
	s := NewSession("user1", LanguageEnUS, DefaultConfig(), &NoOpLogger{}, store, &fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{}, nil, sink.emit)
	defer s.Stop()

	history := s.GetHistory(10)
	if len(history) != 1 || history[0].Content != "hi" {
		t.Errorf("expected session history to reflect the store, got %+v", history)
	}
}

func TestSessionClearConversation(t *testing.T) {
	store := NewConversationStore()
	store.Append("user1", RoleUser, "hi", 1)

	sink := &eventSink{}
	s := NewSession("user1", LanguageEnUS, DefaultConfig(), &NoOpLogger{}, store, &fakeTranscriberProvider{}, &fakeResponder{}, &fakeSynthesizer{}, nil, sink.emit)
	defer s.Stop()

	s.ClearConversation()
	if history := s.GetHistory(10); len(history) != 0 {
		t.Errorf("expected empty history after clear, got %+v", history)
	}
}

// TestSessionStopProcessingFlushesBufferedTurnIntoAIResponse is the
// "Stop flush" scenario: a final fragment is buffered but the
// inactivity timer hasn't fired yet when stop-processing arrives. The
// buffered turn must still produce exactly one ai-response — teardown
// must not cancel the ReplyTask the flush itself launches.
func TestSessionStopProcessingFlushesBufferedTurnIntoAIResponse(t *testing.T) {
	s, sink := newTestSession(&fakeTranscriberProvider{}, &fakeResponder{reply: "here is your answer"}, &fakeSynthesizer{})
	defer s.Stop()

	s.StartProcessing()
	s.tbic.OnFinalFragment(TranscriptFragment{Text: "question", Confidence: 1, IsPartial: false}, 1000)
	s.StopProcessing()

	sink.waitForCount(t, EventAIResponse, 1)

	history := s.GetHistory(10)
	if len(history) != 2 || history[0].Content != "question" || history[1].Content != "here is your answer" {
		t.Fatalf("expected one user turn and one assistant reply, got %+v", history)
	}
}

func TestSessionStopClosesOpenTranscriber(t *testing.T) {
	provider := &fakeTranscriberProvider{}
	s, _ := newTestSession(provider, &fakeResponder{}, &fakeSynthesizer{})

	s.StartProcessing()
	now := int64(0)
	for i := 0; i < 3; i++ {
		now += 20
		s.PushFrame(loudFrame(now))
	}

	deadline := time.Now().Add(time.Second)
	for provider.last() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	tr := provider.last()
	if tr == nil {
		t.Fatal("expected a Transcriber to be opened")
	}

	s.Stop()

	tr.mu.Lock()
	closed := tr.closed
	tr.mu.Unlock()
	if !closed {
		t.Error("expected Stop to close the open Transcriber")
	}
}
