package fetch

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrPrivateAddress is returned when a private address is dialled with
// BlockPrivate enabled.
var ErrPrivateAddress = errors.New("private address is not allowed")

type ClientConfig struct {
	// BlockPrivate refuses connections to loopback, unspecified, private,
	// link-local and carrier-grade NAT addresses.
	BlockPrivate bool
	// ResponseHeaderTimeout bounds the wait for response headers. Zero means 15s.
	ResponseHeaderTimeout time.Duration
}

// sharedBlocks covers ranges the net.IP predicates leave out: "this
// network" and carrier-grade NAT.
var sharedBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{"0.0.0.0/8", "100.64.0.0/10"} {
		_, block, _ := net.ParseCIDR(cidr)
		sharedBlocks = append(sharedBlocks, block)
	}
}

// isPrivateIP reports whether ip reaches this host or a non-public network.
// Unspecified addresses count, since dialling 0.0.0.0 or :: lands on a
// local listener.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	for _, block := range sharedBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// NewHTTPClient builds a client with timeouts suited to file downloads.
// The overall request lifetime is left to the caller's context.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = 15 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if cfg.BlockPrivate {
		// address is already resolved here, so DNS rebinding cannot bypass the check
		dialer.Control = func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
				return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
			}
			return nil
		}
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
