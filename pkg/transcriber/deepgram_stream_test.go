package transcriber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

func TestDeepgramStreamProviderDeliversFinalFragment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		// drain the pushed binary frame
		_, _, _ = conn.Read(r.Context())

		conn.Write(r.Context(), websocket.MessageText, []byte(
			`{"is_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.95}]}}`,
		))
	}))
	defer server.Close()

	p := &DeepgramStreamProvider{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}

	fragments := make(chan orchestrator.TranscriptFragment, 1)
	tr, err := p.Open(context.Background(), orchestrator.LanguageEnUS, 16000, orchestrator.TranscriberEvents{
		OnFragment: func(f orchestrator.TranscriptFragment) { fragments <- f },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tr.Close()

	tr.Push([]byte{1, 2, 3, 4})

	select {
	case f := <-fragments:
		if f.Text != "hello there" || f.IsPartial {
			t.Fatalf("unexpected fragment: %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fragment")
	}
}

func TestDeepgramStreamProviderRequiresAPIKey(t *testing.T) {
	p := NewDeepgramStreamProvider("")
	_, err := p.Open(context.Background(), orchestrator.LanguageEnUS, 16000, orchestrator.TranscriberEvents{})
	if err == nil {
		t.Fatal("expected an error without an api key")
	}
}

func TestDeepgramStreamProviderCloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")
		<-r.Context().Done()
	}))
	defer server.Close()

	p := &DeepgramStreamProvider{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}
	tr, err := p.Open(context.Background(), orchestrator.LanguageEnUS, 16000, orchestrator.TranscriberEvents{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.Close()
	tr.Close() // must not panic
}
