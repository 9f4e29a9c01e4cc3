// Package urlpolicy decides which remote image URLs the service may fetch.
package urlpolicy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlocked is returned for URLs the policy refuses to fetch
var ErrBlocked = errors.New("url blocked by policy")

// Policy restricts remote fetches. The zero value allows any http or https
// URL with a host.
type Policy struct {
	BlockPrivateIPs bool
	BlockedDomains  []string

	// Resolver defaults to net.DefaultResolver
	Resolver interface {
		LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	}
}

// Check returns nil when rawURL may be fetched. Blocked URLs return an error
// wrapping ErrBlocked; malformed ones a plain error.
func (p Policy) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q (only http and https are allowed)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}

	lower := strings.ToLower(host)
	for _, blocked := range p.BlockedDomains {
		blocked = strings.ToLower(blocked)
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return fmt.Errorf("%w: domain %s", ErrBlocked, host)
		}
	}

	if !p.BlockPrivateIPs {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivate(addr) {
			return fmt.Errorf("%w: private address %s", ErrBlocked, addr)
		}
		return nil
	}

	var resolver interface {
		LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	} = net.DefaultResolver
	if p.Resolver != nil {
		resolver = p.Resolver
	}

	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		// unresolvable hosts fail at fetch time
		return nil
	}
	for _, addr := range addrs {
		if isPrivate(addr) {
			return fmt.Errorf("%w: %s resolves to private address %s", ErrBlocked, host, addr)
		}
	}
	return nil
}

func isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}

// maxRedirects matches net/http's default limit
const maxRedirects = 10

// Client returns an HTTP client that enforces the policy on every redirect
// hop and, with BlockPrivateIPs, on the address actually dialed, so a
// redirect or a second DNS answer cannot reach a blocked host.
func (p Policy) Client(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if p.BlockPrivateIPs {
		dialer.Control = controlDial
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return p.Check(req.Context(), req.URL.String())
		},
	}
}

func controlDial(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: unparseable dial address %s", ErrBlocked, address)
	}
	if isPrivate(ap.Addr()) {
		return fmt.Errorf("%w: private address %s", ErrBlocked, ap.Addr())
	}
	return nil
}
