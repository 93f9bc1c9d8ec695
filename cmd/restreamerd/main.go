package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"

	"github.com/mahina-labs/restreamer"
	"github.com/mahina-labs/restreamer/internal/logging"
)

const version = "0.1.0"

var mainLog = logging.DefaultLogger.WithTag("main")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		fmt.Println("restreamerd " + version)
		os.Exit(0)
	}

	cfg := restreamer.DefaultConfig()
	cfg.RtpListenEndpoint = restreamer.Endpoint{Address: flagRtpAddress, Port: flagRtpPort}

	r := restreamer.New(cfg)
	if err := r.Start(); err != nil {
		mainLog.Error("start: %v", err)
		os.Exit(1)
	}

	router := http.NewServeMux()
	router.HandleFunc("/", serveTestPage)
	router.HandleFunc("/ws", newSignalingHandler(r))

	server := &http.Server{Addr: flagListenAddress, Handler: router}

	go func() {
		mainLog.Info("signaling listening on %s", flagListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLog.Error("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("shutting down")
	r.Stop()
	server.Close()
}

// signalingMessage is the one JSON shape exchanged over the WebSocket:
// an "offer" sent to the browser carries peerId/sdp, and an "answer"
// received back carries the same peerId plus the browser's SDP.
type signalingMessage struct {
	Type    string `json:"type"`
	PeerId  string `json:"peerId"`
	Sdp     string `json:"sdp"`
	Message string `json:"message,omitempty"`
}

// newSignalingHandler returns the /ws handler bound to r. One WebSocket
// connection corresponds to exactly one AppendClient call: on connect
// the server offers, and the browser's next message must be the
// matching answer (spec.md §6's example signaling never trickles
// candidates, since CreateOffer only ever emits a complete candidate
// set up front).
func newSignalingHandler(r *restreamer.Restreamer) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			mainLog.Warn("upgrade: %v", err)
			return
		}
		defer ws.Close()

		peerId, offerSdp, err := r.AppendClient()
		if err != nil {
			mainLog.Warn("appendClient: %v", err)
			ws.WriteJSON(signalingMessage{Type: "error", Message: err.Error()})
			return
		}

		if err := ws.WriteJSON(signalingMessage{Type: "offer", PeerId: peerId.String(), Sdp: offerSdp}); err != nil {
			mainLog.Warn("write offer: %v", err)
			return
		}

		for {
			var msg signalingMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "answer" {
				mainLog.Warn("unexpected signaling message type %q", msg.Type)
				continue
			}
			if err := r.ProcessClientAnswer(peerId, msg.Sdp); err != nil {
				mainLog.Warn("processClientAnswer: %v", err)
				ws.WriteJSON(signalingMessage{Type: "error", Message: err.Error()})
			}
			return
		}
	}
}

func serveTestPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(testPageHTML))
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head><title>restreamer</title></head>
<body>
<h1>restreamer</h1>
<video id="remote" autoplay playsinline controls></video>
<script>
const pc = new RTCPeerConnection();
pc.ontrack = (e) => { document.getElementById("remote").srcObject = e.streams[0]; };

const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = async (evt) => {
  const msg = JSON.parse(evt.data);
  if (msg.type === "offer") {
    await pc.setRemoteDescription({type: "offer", sdp: msg.sdp});
    const answer = await pc.createAnswer();
    await pc.setLocalDescription(answer);
    ws.send(JSON.stringify({type: "answer", peerId: msg.peerId, sdp: answer.sdp}));
  } else if (msg.type === "error") {
    console.error("restreamer:", msg.message);
  }
};
</script>
</body>
</html>`
