// Package ipintel answers whether a client address belongs to an anonymizing
// network (VPN, proxy, Tor exit, hosting range).
package ipintel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

var (
	ErrInvalidIP          = errors.New("ipintel: invalid ip address")
	ErrDatabaseNotLoaded  = errors.New("ipintel: database not configured")
	DefaultAnonymousCIDRs = []string{"103.0.0.0/8", "104.0.0.0/8"}
)

// Oracle reports whether ip is anonymized. Callers treat errors as false.
type Oracle interface {
	IsAnonymous(ctx context.Context, ip string) (bool, error)
}

// Nop never flags an address.
type Nop struct{}

func (Nop) IsAnonymous(context.Context, string) (bool, error) { return false, nil }

// PrefixOracle flags addresses inside a fixed set of prefixes.
type PrefixOracle struct {
	prefixes []netip.Prefix
}

// NewPrefixOracle parses cidrs. An empty list uses DefaultAnonymousCIDRs.
func NewPrefixOracle(cidrs []string) (*PrefixOracle, error) {
	if len(cidrs) == 0 {
		cidrs = DefaultAnonymousCIDRs
	}
	o := &PrefixOracle{prefixes: make([]netip.Prefix, 0, len(cidrs))}
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("ipintel: parse cidr %q: %w", c, err)
		}
		o.prefixes = append(o.prefixes, p.Masked())
	}
	return o, nil
}

// IsAnonymous implements Oracle.
func (o *PrefixOracle) IsAnonymous(_ context.Context, ip string) (bool, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}
	addr = addr.Unmap()
	for _, p := range o.prefixes {
		if p.Contains(addr) {
			return true, nil
		}
	}
	return false, nil
}

// GeoIPOracle uses a MaxMind GeoIP2 Anonymous-IP database.
type GeoIPOracle struct {
	db *geoip2.Reader
}

// OpenGeoIP opens the Anonymous-IP database at path.
func OpenGeoIP(path string) (*GeoIPOracle, error) {
	if path == "" {
		return nil, ErrDatabaseNotLoaded
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ipintel: open database: %w", err)
	}
	return &GeoIPOracle{db: db}, nil
}

// IsAnonymous implements Oracle.
func (o *GeoIPOracle) IsAnonymous(_ context.Context, ip string) (bool, error) {
	if o == nil || o.db == nil {
		return false, ErrDatabaseNotLoaded
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}
	rec, err := o.db.AnonymousIP(parsed)
	if err != nil {
		return false, fmt.Errorf("ipintel: lookup: %w", err)
	}
	return rec.IsAnonymous || rec.IsAnonymousVPN || rec.IsPublicProxy ||
		rec.IsTorExitNode || rec.IsHostingProvider, nil
}

// Close releases the database.
func (o *GeoIPOracle) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}

// Chain flags an address when any oracle does. Errors from one oracle do
// not hide a positive answer from another.
type Chain []Oracle

// IsAnonymous implements Oracle.
func (c Chain) IsAnonymous(ctx context.Context, ip string) (bool, error) {
	var errs []error
	for _, o := range c {
		ok, err := o.IsAnonymous(ctx, ip)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
