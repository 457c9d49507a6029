package orchestrator

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// InactivityTimeoutMillis is the contractual TBIC debounce: a final
// fragment resets a one-shot timer to this value; on expiry the buffer
// is drained into a ReplyTask.
const InactivityTimeoutMillis = 2000

// turnBufferClock lets tests substitute a deterministic scheduler for the
// inactivity timer instead of a real time.AfterFunc.
type turnBufferClock interface {
	AfterFunc(d time.Duration, f func()) func() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// TBIC is the Turn Buffer & Interruption Controller. It accumulates
// final transcript fragments into a turn, fires a ReplyTask on an
// inactivity timer, and cancels any in-flight ReplyTask/SynthTask on
// fresh user speech (barge-in).
//
// Every exported method must only ever be called from the owning
// Session's serialized loop (see session.go) — this is what gives the
// "at most one live ReplyTask/SynthTask" and "cancel precedes the next
// launch" invariants for free, the same way ManagedStream relies on its
// own mutex for the equivalent guarantee.
type TBIC struct {
	userID      string
	store       *ConversationStore
	responder   Responder
	synthesizer Synthesizer
	cfg         Config
	logger      Logger
	metrics     *Metrics
	emit        func(OutboundEvent)
	post        func(func())
	clock       turnBufferClock

	systemPreamble string
	voice          Voice
	language       Language

	buffer        []TranscriptFragment
	stopTimer     func() bool
	timerGen      int

	replyCancel context.CancelFunc
	replyGen    int

	synthCancel context.CancelFunc
	synthGen    int

	ttsAvailable              bool
	ttsUnavailableEmittedTurn bool
}

// NewTBIC constructs a TBIC bound to one session's user id, emit sink and
// serialization-preserving post function.
func NewTBIC(userID string, store *ConversationStore, responder Responder, synthesizer Synthesizer, cfg Config, logger Logger, metrics *Metrics, emit func(OutboundEvent), post func(func())) *TBIC {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &TBIC{
		userID:       userID,
		store:        store,
		responder:    responder,
		synthesizer:  synthesizer,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		emit:         emit,
		post:         post,
		clock:        realClock{},
		voice:        cfg.VoiceStyle,
		language:     cfg.Language,
		ttsAvailable: synthesizer != nil,
	}
}

// SetSystemPrompt sets the fixed system preamble prepended to every prompt.
func (t *TBIC) SetSystemPrompt(prompt string) { t.systemPreamble = prompt }

// SetVoice / SetLanguage update the voice and language used for the next
// SynthTask / Responder call.
func (t *TBIC) SetVoice(v Voice)         { t.voice = v }
func (t *TBIC) SetLanguage(l Language)   { t.language = l }

// HasLiveReply / HasLiveSynth expose the at-most-one-live invariant for
// tests and for the barge-in and synthesis-launch checks below.
func (t *TBIC) HasLiveReply() bool { return t.replyCancel != nil }
func (t *TBIC) HasLiveSynth() bool { return t.synthCancel != nil }

// BufferedCount reports how many final fragments are currently buffered.
func (t *TBIC) BufferedCount() int { return len(t.buffer) }

// OnFinalFragment implements the three-step behaviour for a final
// fragment with non-empty text: barge-in cancel, append, timer reset.
// Empty-text fragments (e.g. silence padding some providers emit) are
// ignored entirely, and fragments below MinFragmentConfidence are
// dropped — by default that threshold is 0, so every fragment including
// confidence-0 ones is admitted.
func (t *TBIC) OnFinalFragment(fragment TranscriptFragment, now int64) {
	if strings.TrimSpace(fragment.Text) == "" {
		return
	}
	if fragment.Confidence < t.cfg.MinFragmentConfidence {
		return
	}

	if t.HasLiveReply() || t.HasLiveSynth() {
		t.interruptForBargeIn(now)
	}

	t.buffer = append(t.buffer, fragment)
	t.resetInactivityTimer(now)
}

// Flush forces immediate processing of any buffered fragments, bypassing
// the inactivity timer. Used on STOP_TRANSCRIPTION and on
// stop-processing/session teardown, so nothing buffered is ever silently
// dropped on close.
func (t *TBIC) Flush(now int64) {
	t.cancelInactivityTimer()
	t.fireInactivity(now)
}

// CancelTasks cancels any live ReplyTask/SynthTask without emitting an
// ai-interrupted event — used for session teardown, where the caller
// emits its own processing-stopped event instead.
func (t *TBIC) CancelTasks() {
	t.cancelReply()
	t.cancelSynth()
}

func (t *TBIC) interruptForBargeIn(now int64) {
	t.CancelTasks()
	if t.metrics != nil {
		t.metrics.InterruptionsTotal.Inc()
	}
	t.emit(OutboundEvent{Name: EventAIInterrupted, SessionID: t.userID, Payload: map[string]interface{}{
		"timestamp":     now,
		"interruptedAt": now,
	}})
}

func (t *TBIC) cancelReply() {
	if t.replyCancel != nil {
		t.replyCancel()
		t.replyCancel = nil
	}
	t.replyGen++
}

func (t *TBIC) cancelSynth() {
	if t.synthCancel != nil {
		t.synthCancel()
		t.synthCancel = nil
	}
	t.synthGen++
}

func (t *TBIC) resetInactivityTimer(now int64) {
	t.cancelInactivityTimer()
	t.timerGen++
	gen := t.timerGen
	t.stopTimer = t.clock.AfterFunc(InactivityTimeoutMillis*time.Millisecond, func() {
		t.post(func() {
			if gen != t.timerGen {
				return // superseded by a later reset/cancel — stale fire is suppressed
			}
			t.fireInactivity(now + InactivityTimeoutMillis)
		})
	})
}

func (t *TBIC) cancelInactivityTimer() {
	if t.stopTimer != nil {
		t.stopTimer()
		t.stopTimer = nil
	}
	t.timerGen++
}

// fireInactivity implements the inactivity-timer-expiry behaviour:
// drain, append a user Turn, launch a ReplyTask.
func (t *TBIC) fireInactivity(now int64) {
	if len(t.buffer) == 0 {
		return
	}

	texts := make([]string, 0, len(t.buffer))
	var confSum float64
	for _, f := range t.buffer {
		// NFC-normalize before trimming so turn text is stable across
		// provider Unicode quirks (e.g. combining-diacritic sequences
		// some STT vendors emit instead of their precomposed form).
		trimmed := strings.TrimSpace(norm.NFC.String(f.Text))
		if trimmed == "" {
			continue
		}
		texts = append(texts, trimmed)
		confSum += f.Confidence
	}
	meanConfidence := 0.0
	if len(t.buffer) > 0 {
		meanConfidence = confSum / float64(len(t.buffer))
	}

	joined := strings.TrimSpace(strings.Join(texts, " "))
	t.buffer = t.buffer[:0]
	t.ttsUnavailableEmittedTurn = false

	if joined == "" {
		return
	}

	t.store.Append(t.userID, RoleUser, joined, now)
	t.launchReply(joined, meanConfidence, now)
}

// launchReply runs the ReplyTask lifecycle. confidence is the mean
// fragment confidence of the turn being replied to, carried through
// unchanged into the emitted ai-response payload (§6.1).
func (t *TBIC) launchReply(userText string, confidence float64, now int64) {
	ctx, cancel := context.WithCancel(context.Background())
	t.replyCancel = cancel
	t.replyGen++
	gen := t.replyGen

	prompt := t.buildPrompt()

	go func() {
		reply, err := t.responder.Complete(ctx, prompt)
		t.post(func() {
			if gen != t.replyGen {
				return // cancelled/superseded — discard even a late success
			}
			t.replyCancel = nil

			if ctx.Err() != nil {
				return // barge-in: suppress all output, never append
			}
			if err != nil {
				t.logger.Error("responder failed", "userID", t.userID, "error", err)
				if t.metrics != nil {
					t.metrics.ReplyTasksTotal.WithLabelValues("error").Inc()
				}
				t.emit(OutboundEvent{Name: EventAIResponseError, SessionID: t.userID, Payload: map[string]interface{}{
					"message":   "the assistant could not generate a reply",
					"timestamp": now,
				}})
				return
			}

			if t.metrics != nil {
				t.metrics.ReplyTasksTotal.WithLabelValues("success").Inc()
			}
			t.store.Append(t.userID, RoleAssistant, reply, now)
			t.emit(OutboundEvent{Name: EventAIResponse, SessionID: t.userID, Payload: map[string]interface{}{
				"response":            reply,
				"transcript":          userText,
				"timestamp":           now,
				"confidence":          confidence,
				"bufferedTranscripts": true,
			}})

			if !t.HasLiveSynth() {
				t.launchSynth(reply, now)
			}
		})
	}()
}

// launchSynth runs the SynthTask lifecycle.
func (t *TBIC) launchSynth(text string, now int64) {
	if !t.ttsAvailable {
		if !t.ttsUnavailableEmittedTurn {
			t.ttsUnavailableEmittedTurn = true
			t.emit(OutboundEvent{Name: EventTTSUnavailable, SessionID: t.userID, Payload: map[string]interface{}{
				"message":   "text-to-speech is not configured",
				"timestamp": now,
			}})
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.synthCancel = cancel
	t.synthGen++
	gen := t.synthGen

	voice, lang := t.voice, t.language

	go func() {
		var audio []byte
		err := t.synthesizer.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			audio = append(audio, chunk...)
			return nil
		})

		t.post(func() {
			if gen != t.synthGen {
				return // discard any partial buffer on cancellation
			}
			t.synthCancel = nil

			if ctx.Err() != nil {
				return // cancelled before/during streaming: emit nothing
			}
			if err != nil {
				t.logger.Error("synthesis failed", "userID", t.userID, "error", err)
				if t.metrics != nil {
					t.metrics.SynthTasksTotal.WithLabelValues("error").Inc()
				}
				t.emit(OutboundEvent{Name: EventTTSError, SessionID: t.userID, Payload: map[string]interface{}{
					"message":   "speech synthesis failed",
					"timestamp": now,
				}})
				return
			}

			if t.metrics != nil {
				t.metrics.SynthTasksTotal.WithLabelValues("success").Inc()
			}
			t.emit(OutboundEvent{Name: EventTTSAudio, SessionID: t.userID, Payload: map[string]interface{}{
				"audioData": audio,
				"text":      text,
				"timestamp": now,
			}})
		})
	}()
}

// buildPrompt assembles the messages sent to the Responder: the fixed
// system preamble (if set) plus the windowed conversation history.
// fireInactivity appends the current user Turn to the store before
// calling this, so the window already ends with userText — it must not
// be appended again here, or the Responder sees the same utterance
// twice.
func (t *TBIC) buildPrompt() []Message {
	messages := make([]Message, 0, t.cfg.PromptWindowTurns+1)
	if t.systemPreamble != "" {
		messages = append(messages, Message{Role: "system", Content: t.systemPreamble})
	}
	for _, turn := range t.store.Window(t.userID, t.cfg.PromptWindowTurns) {
		messages = append(messages, Message{Role: string(turn.Role), Content: turn.Content})
	}
	return messages
}
