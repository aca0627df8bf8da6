package rtc

import (
	"github.com/dkeye/Boardly/internal/config"
	"github.com/pion/webrtc/v4"
)

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// ICEServers converts configured servers; without any the public STUN
// server is used.
func ICEServers(cfg []config.ICEServer) []webrtc.ICEServer {
	if len(cfg) == 0 {
		return DefaultICEServers()
	}
	out := make([]webrtc.ICEServer, 0, len(cfg))
	for _, s := range cfg {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
