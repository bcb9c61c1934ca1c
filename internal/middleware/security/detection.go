package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"

	"spendwatch/internal/log"
)

var probePatterns = []string{
	"../", "..\\", ".env", ".git", ".ssh", "wp-admin", "phpmyadmin",
	"etc/passwd", "cmd.exe", "<script", "union select",
}

var blockedMethods = map[string]bool{"TRACE": true, "TRACK": true, "DEBUG": true}

const maxURLLength = 2048

type DetectionMetrics struct {
	Blocked int64
}

// Detector resolves the real client address behind trusted proxies and
// rejects obvious scanner probes before they reach a handler.
type Detector struct {
	logger         *log.Logger
	trustedProxies []netip.Prefix
	blocked        atomic.Int64
}

// NewDetector trusts loopback and private ranges plus any extra CIDRs.
func NewDetector(logger *log.Logger, extraProxies ...string) (*Detector, error) {
	if logger == nil {
		logger = log.Discard()
	}
	d := &Detector{logger: logger.WithComponent(log.ComponentSecurity)}
	for _, cidr := range append([]string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}, extraProxies...) {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %s: %w", cidr, err)
		}
		d.trustedProxies = append(d.trustedProxies, p)
	}
	return d, nil
}

// Suspicious reports whether r looks like a probe rather than API traffic.
func (d *Detector) Suspicious(r *http.Request) bool {
	if blockedMethods[r.Method] || len(r.URL.String()) > maxURLLength {
		return true
	}
	target := strings.ToLower(r.URL.Path + "?" + r.URL.RawQuery)
	for _, p := range probePatterns {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

// Middleware answers suspicious requests with 404 and logs them.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.Suspicious(r) {
			d.blocked.Add(1)
			d.logger.Warn("Suspicious request blocked",
				log.FieldClientIP, d.ClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				"user_agent", r.UserAgent())
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the peer address, or the first forwarded address when
// the peer is a trusted proxy.
func (d *Detector) ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !d.trusted(peer) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if a, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return a.String()
		}
	}
	if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return a.String()
	}
	return host
}

func (d *Detector) trusted(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range d.trustedProxies {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{Blocked: d.blocked.Load()}
}
