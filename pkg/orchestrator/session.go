package orchestrator

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Session is the per-connection state: a Voice Activity Tracker, a Turn
// Buffer & Interruption Controller, an optional open Transcriber, and
// the bookkeeping the orchestration loop below acts on. Grounded on
// ManagedStream (it owns the VAD, the pipeline cancel handles, and the
// event emission channel), generalized from "one stream per CLI
// process" to "one of many sessions tracked by a Registry".
//
// All mutation of Session state happens on the session's own serialized
// loop goroutine (started by run()), which is what guarantees frames are
// never analyzed concurrently in a way that observes inconsistent VAT
// counters — the same role ManagedStream's ms.mu plays, restated as a
// single-goroutine event loop rather than a shared mutex.
type Session struct {
	ID        string
	UserID    string
	Language  Language
	CreatedAt int64

	cfg     Config
	logger  Logger
	store   *ConversationStore
	metrics *Metrics
	emit    func(OutboundEvent)

	transcriberProvider TranscriberProvider

	vat  *VAT
	tbic *TBIC

	cmdCh chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	processing bool

	transcriber     Transcriber
	transcriberGen  int
}

// NewSession constructs a Session and starts its serialized command
// loop. emit delivers OutboundEvents to whatever transport owns this
// session; it must be safe to call from the loop goroutine.
func NewSession(userID string, language Language, cfg Config, logger Logger, store *ConversationStore, transcriberProvider TranscriberProvider, responder Responder, synthesizer Synthesizer, metrics *Metrics, emit func(OutboundEvent)) *Session {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	id := fmt.Sprintf("session_%s_%d", userID, time.Now().UnixMilli())

	s := &Session{
		ID:                  id,
		UserID:              userID,
		Language:            language,
		CreatedAt:           time.Now().UnixMilli(),
		cfg:                 cfg,
		logger:              logger,
		store:               store,
		metrics:             metrics,
		emit:                emit,
		transcriberProvider: transcriberProvider,
		vat:                 NewVAT(),
		cmdCh:               make(chan func(), 256),
		done:                make(chan struct{}),
	}
	s.tbic = NewTBIC(userID, store, responder, synthesizer, cfg, logger, metrics, emit, s.enqueue)
	if cfg.SystemPrompt != "" {
		s.tbic.SetSystemPrompt(cfg.SystemPrompt)
	}

	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.cmdCh:
			fn()
		case <-s.done:
			// Drain any already-queued commands before exiting so a
			// concurrently-posted callback never blocks forever on a
			// full channel.
			for {
				select {
				case fn := <-s.cmdCh:
					fn()
				default:
					return
				}
			}
		}
	}
}

// enqueue posts fn onto the session's serialized loop. Adapter callbacks
// (transcript fragments, transcriber errors, reply/synth completions,
// timer fires) all funnel through this so they never touch Session
// state from their own goroutine.
func (s *Session) enqueue(fn func()) {
	select {
	case s.cmdCh <- fn:
	case <-s.done:
	}
}

// HasOpenTranscriber reports whether a Transcriber is currently open.
// The read is posted onto the session loop and answered false if the
// loop does not reply within 50ms or has stopped — fine because callers
// only need an approximate, momentarily-stale answer (health/status
// endpoints), never a decision input.
func (s *Session) HasOpenTranscriber() bool {
	done := make(chan bool, 1)
	select {
	case s.cmdCh <- func() { done <- s.transcriber != nil }:
		select {
		case v := <-done:
			return v
		case <-time.After(50 * time.Millisecond):
			return false
		}
	case <-s.done:
		return false
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

// IsProcessing reports whether the session is currently between a
// start-processing and the matching stop-processing, read the same
// momentarily-stale way as HasOpenTranscriber — fine for the /sessions
// HTTP endpoint, never for a decision input.
func (s *Session) IsProcessing() bool {
	done := make(chan bool, 1)
	select {
	case s.cmdCh <- func() { done <- s.processing }:
		select {
		case v := <-done:
			return v
		case <-time.After(50 * time.Millisecond):
			return false
		}
	case <-s.done:
		return false
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

// StartProcessing implements the start-processing inbound event:
// enter processing=true, reset the VAT, and cancel any live
// ReplyTask/SynthTask. Final fragments already buffered in the TBIC
// and its pending inactivity timer are left as they are.
func (s *Session) StartProcessing() {
	s.enqueue(func() {
		s.processing = true
		s.vat.Reset()
		s.tbic.CancelTasks()
	})
}

// StopProcessing implements stop-processing, idempotently: cancel
// whatever ReplyTask/SynthTask was already live, flush TBIC (which may
// launch a fresh ReplyTask for the turn it drains — that new task must
// survive this teardown, not be cancelled by it), stop the Transcriber,
// and emit processing-stopped exactly once even if called twice in a
// row.
func (s *Session) StopProcessing() {
	s.enqueue(func() {
		if !s.processing {
			return
		}
		s.teardownTasks(time.Now().UnixMilli())
		s.vat.Reset()
		s.processing = false
		s.emit(OutboundEvent{Name: EventProcessingStopped, SessionID: s.ID, Payload: map[string]interface{}{
			"message": "processing stopped",
		}})
	})
}

// teardownTasks cancels any already-live ReplyTask/SynthTask first —
// that cancellation must happen before the buffer is drained, never
// after, or it would cancel the very ReplyTask the flush below launches
// for the turn it drains. With that pre-existing task (if any) cancelled,
// flushing the TBIC and closing the open Transcriber have no ordering
// dependency on each other, so they run concurrently: closing the
// Transcriber may wait on an upstream socket close, and running it in
// lockstep with the flush would make every teardown pay that latency
// twice over. Neither side can fail in a way the caller needs to
// observe, so errgroup.Group is used purely for the fan-out/join, not
// error aggregation.
func (s *Session) teardownTasks(now int64) {
	s.tbic.CancelTasks()

	var g errgroup.Group
	g.Go(func() error {
		s.tbic.Flush(now)
		return nil
	})
	g.Go(func() error {
		s.closeTranscriber()
		return nil
	})
	_ = g.Wait()
}

// PushFrame implements the audio-data inbound event: run
// the Analyzer, feed the VAT, react to VAT decisions, and forward raw
// samples to an open Transcriber.
func (s *Session) PushFrame(frame AudioFrame) {
	s.enqueue(func() {
		if !s.processing {
			return
		}

		result := Analyze(frame)
		event := s.vat.Process(result, frame.Timestamp)

		if event != nil {
			switch event.Type {
			case StartTranscription:
				s.openTranscriber(frame.Timestamp)
				if s.metrics != nil {
					s.metrics.VATTransitions.WithLabelValues("transcribing").Inc()
				}
			case StopTranscription:
				s.tbic.Flush(frame.Timestamp)
				s.closeTranscriber()
				if s.metrics != nil {
					s.metrics.VATTransitions.WithLabelValues("idle").Inc()
				}
			}
		}

		if s.transcriber != nil {
			s.transcriber.Push(samplesToPCMBytes(frame.Samples))
		}
	})
}

func (s *Session) openTranscriber(now int64) {
	if s.transcriberProvider == nil {
		return
	}
	s.transcriberGen++
	gen := s.transcriberGen

	events := TranscriberEvents{
		OnFragment: func(fragment TranscriptFragment) {
			s.enqueue(func() {
				if gen != s.transcriberGen {
					return // stale callback from a since-closed channel
				}
				s.emit(OutboundEvent{Name: EventTranscriptionResult, SessionID: s.ID, Payload: map[string]interface{}{
					"transcript": fragment.Text,
					"confidence": fragment.Confidence,
					"isPartial":  fragment.IsPartial,
					"timestamp":  fragment.Timestamp,
				}})
				if !fragment.IsPartial {
					s.tbic.OnFinalFragment(fragment, fragment.Timestamp)
				}
			})
		},
		OnError: func(err error) {
			s.enqueue(func() {
				if gen != s.transcriberGen {
					return
				}
				s.logger.Warn("transcriber error", "sessionID", s.ID, "error", err)
				s.emit(OutboundEvent{Name: EventTranscriptionError, SessionID: s.ID, Payload: map[string]interface{}{
					"message": err.Error(),
				}})
				// An upstream transport error is treated as an implicit
				// STOP_TRANSCRIPTION; reset so the next speech burst
				// opens a fresh channel.
				s.transcriber = nil
				s.vat.Reset()
			})
		},
	}

	t, err := s.transcriberProvider.Open(context.Background(), s.Language, s.cfg.SampleRate, events)
	if err != nil {
		s.logger.Warn("transcriber open failed", "sessionID", s.ID, "error", err)
		s.vat.Reset()
		return
	}
	s.transcriber = t
}

func (s *Session) closeTranscriber() {
	if s.transcriber == nil {
		return
	}
	s.transcriberGen++ // invalidate any in-flight callbacks from this channel
	s.transcriber.Close()
	s.transcriber = nil
}

// GetHistory implements get-conversation-history: a windowed read
// of this session's user's conversation.
func (s *Session) GetHistory(limit int) []Turn {
	if limit <= 0 {
		limit = s.cfg.HistoryWindowTurns
	}
	return s.store.Window(s.UserID, limit)
}

// ClearConversation implements clear-conversation.
func (s *Session) ClearConversation() {
	s.store.Clear(s.UserID)
}

// SetSystemPrompt, SetVoice and SetLanguage configure the TBIC's
// ReplyTask/SynthTask inputs for this session.
func (s *Session) SetSystemPrompt(prompt string) { s.tbic.SetSystemPrompt(prompt) }
func (s *Session) SetVoice(v Voice)               { s.tbic.SetVoice(v) }
func (s *Session) SetLanguage(l Language)          { s.Language = l; s.tbic.SetLanguage(l) }

// Stop tears the session down completely on transport close or explicit
// stop: cancel live tasks, then flush TBIC and close the Transcriber
// (see teardownTasks), reset the VAT, then stop the command loop.
// Idempotent.
func (s *Session) Stop() {
	s.enqueue(func() {
		s.teardownTasks(time.Now().UnixMilli())
		s.vat.Reset()
		s.processing = false
	})

	select {
	case <-s.done:
		return // already stopped
	default:
	}
	close(s.done)
	s.wg.Wait()
}

// samplesToPCMBytes renders int16 samples as little-endian bytes, the
// wire format Transcriber implementations expect to Push.
func samplesToPCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
