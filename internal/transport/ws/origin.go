package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy: разрешённые Origin; пустой список или "*" пускает всех.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
			continue
		case o == "*":
			p.allowAll = true
		default:
			if n, ok := normalizeOrigin(o); ok {
				p.allowed[n] = struct{}{}
			} else {
				slog.Warn("ignoring invalid origin in configuration", slog.String("origin", o))
			}
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

func (p originPolicy) check(r *http.Request) bool {
	if p.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	// не-браузерные клиенты Origin не шлют
	if origin == "" {
		return true
	}
	n, ok := normalizeOrigin(origin)
	if ok {
		if _, ok = p.allowed[n]; ok {
			return true
		}
	}
	slog.Warn("blocked websocket connection from disallowed origin", slog.String("origin", origin))
	return false
}
