package rtc

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServer is one STUN or TURN entry. Credentials only apply to turn: URLs.
type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

var DefaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// ParseICEServers turns plain URL strings from config into servers. A TURN
// URL may carry credentials as turn:user:pass@host:port.
func ParseICEServers(urls []string) []ICEServer {
	out := make([]ICEServer, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		s := ICEServer{URLs: []string{u}}
		if scheme, rest, ok := strings.Cut(u, ":"); ok && (scheme == "turn" || scheme == "turns") {
			if creds, host, ok := strings.Cut(rest, "@"); ok {
				user, pass, _ := strings.Cut(creds, ":")
				s = ICEServer{URLs: []string{scheme + ":" + host}, Username: user, Credential: pass}
			}
		}
		out = append(out, s)
	}
	return out
}

// Configuration builds the pion configuration for servers. A nil slice means
// host candidates only.
func Configuration(servers []ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		cfg.ICEServers = append(cfg.ICEServers, srv)
	}
	return cfg
}
