package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoUpgrader is a minimal test server: it accepts the connect frame
// and then echoes any "text" frame back as a transcript + track pair,
// enough to exercise WSProvider's read loop without a real vendor.
func echoUpgrader(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame wsProviderFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			switch frame.Type {
			case "connect":
				continue
			case "text":
				reply, _ := json.Marshal(wsProviderFrame{Type: "transcript", Text: frame.Text})
				_ = conn.WriteMessage(websocket.TextMessage, reply)
				start, _ := json.Marshal(wsProviderFrame{Type: "track-start", TrackID: "t1", Text: "hi"})
				_ = conn.WriteMessage(websocket.TextMessage, start)
				audio, _ := json.Marshal(wsProviderFrame{Type: "audio", Audio: base64.StdEncoding.EncodeToString([]byte("pcm")), SampleRate: 16000, TrackID: "t1"})
				_ = conn.WriteMessage(websocket.TextMessage, audio)
				complete, _ := json.Marshal(wsProviderFrame{Type: "track-complete", TrackID: "t1"})
				_ = conn.WriteMessage(websocket.TextMessage, complete)
			}
		}
	}))
}

func TestWSProviderRoundTrip(t *testing.T) {
	srv := echoUpgrader(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	provider := NewWSProvider(wsURL, "")

	if err := provider.Connect(context.Background(), ConnectConfig{EntityID: "aria", UserID: "u1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer provider.Close()

	if err := provider.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	var gotTranscript, gotStart, gotAudio, gotComplete bool
	timeout := time.After(2 * time.Second)
	for !(gotTranscript && gotStart && gotAudio && gotComplete) {
		select {
		case evt := <-provider.Events():
			switch evt.Type {
			case EventTranscript:
				gotTranscript = true
			case EventTrackStart:
				gotStart = true
			case EventAudio:
				gotAudio = true
				if string(evt.Audio.Data) != "pcm" {
					t.Fatalf("unexpected audio payload: %q", evt.Audio.Data)
				}
			case EventTrackComplete:
				gotComplete = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for provider events")
		}
	}
}
