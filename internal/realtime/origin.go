package realtime

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// originPolicy decides which browser origins may open a websocket. An empty
// allowlist, or one containing "*", admits every origin. Requests without an
// Origin header come from non-browser clients and are admitted.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      zerolog.Logger
}

func newOriginPolicy(origins []string, log zerolog.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}), log: log}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
			continue
		case o == "*":
			p.allowAll = true
		default:
			n, ok := normalizeOrigin(o)
			if !ok {
				log.Warn().Str("origin", o).Msg("ignoring invalid origin in configuration")
				continue
			}
			p.allowed[n] = struct{}{}
		}
	}
	if len(p.allowed) == 0 {
		p.allowAll = true
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// check is used as websocket.Upgrader.CheckOrigin.
func (p *originPolicy) check(r *http.Request) bool {
	h := r.Header.Get("Origin")
	if h == "" || p.allowAll {
		return true
	}
	if n, ok := normalizeOrigin(h); ok {
		if _, exists := p.allowed[n]; exists {
			return true
		}
	}
	p.log.Warn().Str("origin", h).Msg("blocked websocket connection from disallowed origin")
	return false
}
