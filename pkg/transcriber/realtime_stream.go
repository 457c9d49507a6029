package transcriber

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tidwall/gjson"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

// RealtimeStreamProvider opens a websocket channel carrying
// base64-encoded PCM with server-side VAD — the second of the §4.3 two
// equivalent transcriber backends, functionally an AssemblyAI
// Universal-Streaming-shaped protocol. Grounded on
// pkg/providers/tts/lokutor.go's coder/websocket + wsjson duplex client
// pattern (dial once, write JSON, read a loop of JSON/binary frames),
// applied here to an STT protocol instead of TTS.
type RealtimeStreamProvider struct {
	apiKey string
	host   string
	scheme string
}

func NewRealtimeStreamProvider(apiKey string) *RealtimeStreamProvider {
	return &RealtimeStreamProvider{apiKey: apiKey, host: "streaming.assemblyai.com", scheme: "wss"}
}

func (p *RealtimeStreamProvider) Name() string { return "realtime-stream" }

func (p *RealtimeStreamProvider) Open(ctx context.Context, lang orchestrator.Language, sampleRate int, events orchestrator.TranscriberEvents) (orchestrator.Transcriber, error) {
	if p.apiKey == "" {
		return nil, orchestrator.ErrUpstreamUnavailable
	}

	scheme := p.scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: p.host, Path: "/v3/ws"}
	q := u.Query()
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("encoding", "pcm_s16le")
	u.RawQuery = q.Encode()

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPHeader: authHeader(p.apiKey),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrUpstreamUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &realtimeStreamTranscriber{
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

type realtimeStreamTranscriber struct {
	conn   *websocket.Conn
	events orchestrator.TranscriberEvents

	mu     sync.Mutex
	closed bool

	// writeCh is drained by a single writeLoop goroutine so frames hit
	// the socket in push order; see deepgram_stream.go's writeLoop for
	// the same reasoning against coder/websocket and wire reordering.
	writeCh   chan []byte
	writeDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// realtimeAudioMsg is the wire shape of one outbound audio chunk: base64
// PCM alongside the server-VAD protocol's message discriminator.
type realtimeAudioMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio_data"`
}

func (t *realtimeStreamTranscriber) Push(frame []byte) {
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

func (t *realtimeStreamTranscriber) writeLoop() {
	defer close(t.writeDone)
	for frame := range t.writeCh {
		writeCtx, cancel := context.WithTimeout(t.ctx, 2*time.Second)
		msg := realtimeAudioMsg{Type: "audio", Audio: base64.StdEncoding.EncodeToString(frame)}
		_ = wsjson.Write(writeCtx, t.conn, msg)
		cancel()
	}
}

func (t *realtimeStreamTranscriber) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.writeCh)
	<-t.writeDone // writeLoop must stop before we write on the same conn

	_ = wsjson.Write(t.ctx, t.conn, map[string]string{"type": "terminate"})
	t.cancel()
	t.conn.Close(websocket.StatusNormalClosure, "")
}

func (t *realtimeStreamTranscriber) readLoop() {
	for {
		_, payload, err := t.conn.Read(t.ctx)
		if err != nil {
			t.mu.Lock()
			alreadyClosed := t.closed
			t.closed = true
			t.mu.Unlock()
			if !alreadyClosed && t.events.OnError != nil {
				t.events.OnError(fmt.Errorf("realtime stream closed: %w", err))
			}
			return
		}

		result := gjson.ParseBytes(payload)
		msgType := result.Get("type").String()
		if msgType != "Turn" && msgType != "PartialTranscript" && msgType != "FinalTranscript" {
			continue
		}
		transcript := result.Get("transcript").String()
		if transcript == "" {
			continue
		}
		isPartial := !result.Get("end_of_turn").Bool() && msgType != "FinalTranscript"
		if t.events.OnFragment != nil {
			t.events.OnFragment(orchestrator.TranscriptFragment{
				Text:       transcript,
				Confidence: result.Get("end_of_turn_confidence").Float(),
				IsPartial:  isPartial,
				Timestamp:  time.Now().UnixMilli(),
			})
		}
	}
}

func authHeader(apiKey string) (h map[string][]string) {
	return map[string][]string{"Authorization": {apiKey}}
}
