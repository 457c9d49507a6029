package transcriber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

func TestRealtimeStreamProviderDeliversPartialAndFinal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var msg map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
			return
		}

		wsjson.Write(r.Context(), conn, map[string]interface{}{
			"type":       "PartialTranscript",
			"transcript": "hel",
		})
		wsjson.Write(r.Context(), conn, map[string]interface{}{
			"type":                 "Turn",
			"transcript":           "hello",
			"end_of_turn":          true,
			"end_of_turn_confidence": 0.9,
		})
	}))
	defer server.Close()

	p := &RealtimeStreamProvider{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}

	fragments := make(chan orchestrator.TranscriptFragment, 4)
	tr, err := p.Open(context.Background(), orchestrator.LanguageEnUS, 16000, orchestrator.TranscriberEvents{
		OnFragment: func(f orchestrator.TranscriptFragment) { fragments <- f },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tr.Close()

	tr.Push([]byte{1, 2, 3})

	first := waitRealtimeFragment(t, fragments)
	if first.Text != "hel" || !first.IsPartial {
		t.Errorf("unexpected first fragment: %+v", first)
	}

	second := waitRealtimeFragment(t, fragments)
	if second.Text != "hello" || second.IsPartial {
		t.Errorf("unexpected second fragment: %+v", second)
	}
}

func waitRealtimeFragment(t *testing.T, ch chan orchestrator.TranscriptFragment) orchestrator.TranscriptFragment {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fragment")
		return orchestrator.TranscriptFragment{}
	}
}

func TestRealtimeStreamProviderRequiresAPIKey(t *testing.T) {
	p := NewRealtimeStreamProvider("")
	_, err := p.Open(context.Background(), orchestrator.LanguageEnUS, 16000, orchestrator.TranscriberEvents{})
	if err == nil {
		t.Fatal("expected an error without an api key")
	}
}
