package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"frais/internal/log"
)

var suspiciousPatterns = []string{
	"../", "..\\", ".env", "wp-admin", "phpmyadmin",
	".git", ".ssh", "<script", "union select", "etc/passwd",
}

var scannerAgents = []string{"sqlmap", "nmap", "nikto", "gobuster", "dirb"}

// Detector resolves client addresses and flags requests that look like
// scans. Flagged requests are logged and counted, never blocked.
type Detector struct {
	trustedProxies []*net.IPNet
	suspicious     atomic.Int64
	logger         *log.Logger
}

func NewDetector() *Detector {
	return &Detector{
		trustedProxies: []*net.IPNet{
			parseCIDR("127.0.0.0/8"),
			parseCIDR("10.0.0.0/8"),
			parseCIDR("172.16.0.0/12"),
			parseCIDR("192.168.0.0/16"),
			parseCIDR("::1/128"),
		},
		logger: log.Default(log.ComponentSecurity),
	}
}

func parseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address. Forwarding headers are honored only
// when the direct peer is a trusted proxy.
func (d *Detector) ClientIP(r *http.Request) string {
	direct, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		direct = r.RemoteAddr
	}
	peer := net.ParseIP(direct)
	if peer == nil || !d.isTrustedProxy(peer) {
		return direct
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return direct
}

// IsSuspicious reports traversal attempts, injection probes and known
// scanner user agents.
func (d *Detector) IsSuspicious(r *http.Request) bool {
	target := strings.ToLower(r.URL.Path + "?" + r.URL.RawQuery)
	for _, p := range suspiciousPatterns {
		if strings.Contains(target, p) {
			return true
		}
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, a := range scannerAgents {
		if strings.Contains(ua, a) {
			return true
		}
	}
	return len(r.URL.String()) > 2048
}

// Suspicious returns how many requests were flagged.
func (d *Detector) Suspicious() int64 {
	return d.suspicious.Load()
}

func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.IsSuspicious(r) {
			d.suspicious.Add(1)
			d.logger.WarnContext(r.Context(), "Suspicious request",
				log.FieldClientIP, d.ClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}
