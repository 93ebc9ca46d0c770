// Package ipfilter restricts HTTP endpoints to a list of client networks
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed networks.
// Forwarding headers are honoured only when the peer is a trusted proxy.
type Filter struct {
	allowed []netip.Prefix
	trusted []netip.Prefix
	logger  *slog.Logger
	name    string
}

// New creates a filter from single addresses and CIDR prefixes.
// Invalid entries are logged and skipped; an empty allowed list allows everyone.
// An empty trusted list ignores X-Forwarded-For and X-Real-IP.
// name identifies the protected endpoint in log messages.
func New(name string, allowedIPs, trustedProxies []string, logger *slog.Logger) *Filter {
	return &Filter{
		allowed: parsePrefixes(name, "allowed_ips", allowedIPs, logger),
		trusted: parsePrefixes(name, "trusted_proxies", trustedProxies, logger),
		logger:  logger,
		name:    name,
	}
}

func parsePrefixes(name, field string, entries []string, logger *slog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid CIDR in "+field, "filter", name, "cidr", entry, "error", err)
				continue
			}
			out = append(out, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid IP in "+field, "filter", name, "ip", entry)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

// Enabled returns true if IP filtering is active
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.allowed)
}

// IsAllowed reports whether addr is inside an allowed network.
// IPv4-mapped IPv6 addresses match IPv4 networks.
func (f *Filter) IsAllowed(addr netip.Addr) bool {
	if len(f.allowed) == 0 {
		return true
	}

	return contains(f.allowed, addr)
}

// IsTrustedProxy reports whether addr may set forwarding headers
func (f *Filter) IsTrustedProxy(addr netip.Addr) bool {
	return contains(f.trusted, addr)
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsAllowedString parses and checks an address, with or without a port
func (f *Filter) IsAllowedString(s string) bool {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return f.IsAllowed(addr)
}

// ClientAddr resolves the client address of a request. RemoteAddr is used
// unless it belongs to a trusted proxy; then X-Forwarded-For is walked from
// the right, skipping trusted hops, and X-Real-IP is the fallback.
func (f *Filter) ClientAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	peer = peer.Unmap()
	if !f.IsTrustedProxy(peer) {
		return peer, true
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		var leftmost netip.Addr
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// a malformed hop ends the chain we can vouch for
				break
			}
			addr = addr.Unmap()
			if !f.IsTrustedProxy(addr) {
				return addr, true
			}
			leftmost = addr
		}
		if leftmost.IsValid() {
			return leftmost, true
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.Unmap(), true
		}
	}
	return peer, true
}

// RealIP rewrites RemoteAddr to the resolved client address so later
// handlers and logs see the same client the filter does
func (f *Filter) RealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(f.trusted) > 0 {
			if addr, ok := f.ClientAddr(r); ok {
				r.RemoteAddr = addr.String()
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPMiddleware rejects requests from clients outside the allowed networks with 403
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := f.ClientAddr(r)
		if !ok {
			f.logger.Warn("could not parse client IP", "filter", f.name, "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.IsAllowed(addr) {
			f.logger.Warn("access denied by IP filter", "filter", f.name, "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
