// Package privnet flags hosts that resolve to loopback, link-local or
// RFC1918 addresses so the crawler never fetches from internal networks.
package privnet

import (
	"net"
	"sync"

	"github.com/mycok/zhsearch/crawler/extract"
)

var _ extract.PrivateNetworkDetector = (*NetDetector)(nil)

var defaultPrivateCIDRs = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"fe80::/10",
	"0.0.0.0/8",
	"255.255.255.255/32",
	"fc00::/7",
}

// Resolver looks up the addresses of a host.
type Resolver func(host string) ([]net.IP, error)

// NetDetector checks whether a host resolves to a private network address.
// Verdicts are cached per host for the lifetime of the detector.
type NetDetector struct {
	privateNetBlocks []*net.IPNet
	resolve          Resolver
	cache            sync.Map
}

// NewDetector returns a NetDetector for the default private networks.
func NewDetector() (*NetDetector, error) {
	return NewDetectorFromCIDRs(defaultPrivateCIDRs...)
}

// NewDetectorFromCIDRs returns a NetDetector treating the given CIDR blocks
// as private.
func NewDetectorFromCIDRs(privateNetworkCIDRs ...string) (*NetDetector, error) {
	netBlocks, err := parseCIDRs(privateNetworkCIDRs...)
	if err != nil {
		return nil, err
	}

	return &NetDetector{privateNetBlocks: netBlocks, resolve: net.LookupIP}, nil
}

// SetResolver replaces the DNS lookup.
func (d *NetDetector) SetResolver(r Resolver) {
	d.resolve = r
}

// IsNetworkPrivate reports whether any address of host is private. IP
// literals are checked without a lookup.
func (d *NetDetector) IsNetworkPrivate(host string) (bool, error) {
	if cached, ok := d.cache.Load(host); ok {
		return cached.(bool), nil
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		var err error
		if ips, err = d.resolve(host); err != nil {
			return false, err
		}
	}

	isPrivate := false
	for _, ip := range ips {
		if d.contains(ip) {
			isPrivate = true
			break
		}
	}
	d.cache.Store(host, isPrivate)

	return isPrivate, nil
}

func (d *NetDetector) contains(ip net.IP) bool {
	for _, netBlock := range d.privateNetBlocks {
		if netBlock.Contains(ip) {
			return true
		}
	}

	return false
}

func parseCIDRs(cidrs ...string) ([]*net.IPNet, error) {
	var err error
	ipNets := make([]*net.IPNet, len(cidrs))

	for i, host := range cidrs {
		if _, ipNets[i], err = net.ParseCIDR(host); err != nil {
			return nil, err
		}
	}

	return ipNets, nil
}
