// Package transcriber adapts upstream speech capabilities into the
// §4.3 Transcriber abstraction: a long-lived duplex channel opened once
// per speech burst, pushed raw PCM, and closed when the VAT decides the
// burst ended.
package transcriber

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/audio"
	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

// BatchProvider wraps any orchestrator.STTProvider — the four HTTP
// batch clients in pkg/providers/stt, which take a whole utterance and
// return text — into the duplex open/push/close contract by
// accumulating pushed PCM and issuing one Transcribe call on Close.
// Grounded on the teacher's ManagedStream.runBatchPipeline, the
// non-streaming path already present there.
type BatchProvider struct {
	stt        orchestrator.STTProvider
	sampleRate int
}

// NewBatchProvider adapts stt into a TranscriberProvider. sampleRate is
// the rate to stamp on the WAV container batch providers expect; the
// fixed profile is 16kHz mono (§6.3).
func NewBatchProvider(stt orchestrator.STTProvider, sampleRate int) *BatchProvider {
	return &BatchProvider{stt: stt, sampleRate: sampleRate}
}

func (p *BatchProvider) Name() string { return p.stt.Name() }

func (p *BatchProvider) Open(ctx context.Context, lang orchestrator.Language, sampleRate int, events orchestrator.TranscriberEvents) (orchestrator.Transcriber, error) {
	if p.stt == nil {
		return nil, orchestrator.ErrUpstreamUnavailable
	}
	if sampleRate <= 0 {
		sampleRate = p.sampleRate
	}
	sessCtx, cancel := context.WithCancel(ctx)
	return &batchTranscriber{
		stt:        p.stt,
		lang:       lang,
		sampleRate: sampleRate,
		events:     events,
		ctx:        sessCtx,
		cancel:     cancel,
	}, nil
}

// batchTranscriber accumulates pushed PCM bytes for one speech burst.
// Nothing is sent upstream until Close, at which point one
// Transcribe call runs in its own goroutine and delivers a single final
// TranscriptFragment through events.OnFragment.
type batchTranscriber struct {
	stt        orchestrator.STTProvider
	lang       orchestrator.Language
	sampleRate int
	events     orchestrator.TranscriberEvents

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (t *batchTranscriber) Push(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.buf.Write(frame)
}

func (t *batchTranscriber) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pcm := make([]byte, t.buf.Len())
	copy(pcm, t.buf.Bytes())
	t.mu.Unlock()

	if len(pcm) == 0 {
		t.cancel()
		return
	}

	wavBytes := audio.NewWavBuffer(pcm, t.sampleRate)

	go func() {
		text, err := t.stt.Transcribe(t.ctx, wavBytes, t.lang)
		defer t.cancel()
		if t.ctx.Err() != nil {
			return
		}
		if err != nil {
			if t.events.OnError != nil {
				t.events.OnError(err)
			}
			return
		}
		if t.events.OnFragment != nil {
			t.events.OnFragment(orchestrator.TranscriptFragment{
				Text:       text,
				Confidence: 1,
				IsPartial:  false,
				Timestamp:  time.Now().UnixMilli(),
			})
		}
	}()
}
