package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

// DeepgramStreamProvider opens a persistent bidirectional byte-stream
// channel per speech burst — the first of the §4.3 two equivalent
// transcriber backends. Grounded on pkg/providers/stt/deepgram.go's
// auth header and query param shape, turned into Deepgram's streaming
// websocket endpoint. Raw PCM frames are written to the socket as
// binary messages; results arrive as compact JSON text messages parsed
// with gjson rather than a full nested struct, since only
// `is_final`/`channel.alternatives[0].transcript`/`confidence` are
// needed out of the response.
type DeepgramStreamProvider struct {
	apiKey string
	host   string
	scheme string
}

func NewDeepgramStreamProvider(apiKey string) *DeepgramStreamProvider {
	return &DeepgramStreamProvider{apiKey: apiKey, host: "api.deepgram.com", scheme: "wss"}
}

func (p *DeepgramStreamProvider) Name() string { return "deepgram-stream" }

func (p *DeepgramStreamProvider) Open(ctx context.Context, lang orchestrator.Language, sampleRate int, events orchestrator.TranscriberEvents) (orchestrator.Transcriber, error) {
	if p.apiKey == "" {
		return nil, orchestrator.ErrUpstreamUnavailable
	}

	scheme := p.scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: p.host, Path: "/v1/listen"}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if lang != "" {
		q.Set("language", string(lang))
	}
	u.RawQuery = q.Encode()

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	defer cancelDial()

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrUpstreamUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &deepgramStreamTranscriber{
		conn:      conn,
		events:    events,
		writeCh:   make(chan []byte, writeQueueCapacity),
		writeDone: make(chan struct{}),
		ctx:       runCtx,
		cancel:    cancel,
	}
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

// writeQueueCapacity bounds the outbound frame queue: once full, Push
// drops the oldest queued frame rather than spawning another writer or
// blocking the caller (§5 "drop oldest, don't block" back-pressure
// policy).
const writeQueueCapacity = 32

type deepgramStreamTranscriber struct {
	conn   *websocket.Conn
	events orchestrator.TranscriberEvents

	mu     sync.Mutex
	closed bool

	// writeCh is drained by a single writeLoop goroutine so frames hit
	// the socket in push order; coder/websocket connections are not safe
	// for concurrent writes, and a goroutine-per-frame design can also
	// reorder frames on the wire.
	writeCh   chan []byte
	writeDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func (t *deepgramStreamTranscriber) Push(frame []byte) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.writeCh <- frame:
		return
	default:
	}
	// Queue full: drop the oldest queued frame to make room rather than
	// block the session's serialized loop.
	select {
	case <-t.writeCh:
	default:
	}
	select {
	case t.writeCh <- frame:
	default:
	}
}

func (t *deepgramStreamTranscriber) writeLoop() {
	defer close(t.writeDone)
	for frame := range t.writeCh {
		writeCtx, cancel := context.WithTimeout(t.ctx, 2*time.Second)
		_ = t.conn.Write(writeCtx, websocket.MessageBinary, frame)
		cancel()
	}
}

func (t *deepgramStreamTranscriber) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.writeCh)
	<-t.writeDone // writeLoop must stop before we write on the same conn

	_ = t.conn.Write(t.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
	t.cancel()
	t.conn.Close(websocket.StatusNormalClosure, "")
}

func (t *deepgramStreamTranscriber) readLoop() {
	for {
		_, payload, err := t.conn.Read(t.ctx)
		if err != nil {
			t.mu.Lock()
			alreadyClosed := t.closed
			t.closed = true
			t.mu.Unlock()
			if !alreadyClosed && t.events.OnError != nil {
				t.events.OnError(fmt.Errorf("deepgram stream closed: %w", err))
			}
			return
		}

		result := gjson.ParseBytes(payload)
		transcript := result.Get("channel.alternatives.0.transcript").String()
		if transcript == "" {
			continue
		}
		if t.events.OnFragment != nil {
			t.events.OnFragment(orchestrator.TranscriptFragment{
				Text:       transcript,
				Confidence: result.Get("channel.alternatives.0.confidence").Float(),
				IsPartial:  !result.Get("is_final").Bool(),
				Timestamp:  time.Now().UnixMilli(),
			})
		}
	}
}
