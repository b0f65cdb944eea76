package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// ErrNoAddress is returned when a host resolves to no usable address.
var ErrNoAddress = errors.New("no address for host")

const lookupTimeout = 10 * time.Second

// LookupFunc resolves host to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Resolver maps relay host names to a single IP, caching results.
// Concurrent lookups of the same host share one query.
type Resolver struct {
	lookup LookupFunc
	cache  *cache.Cache
	group  singleflight.Group
}

// NewResolver returns a Resolver caching answers for ttl. A nil lookup uses
// net.DefaultResolver.
func NewResolver(ttl time.Duration, lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		}
	}
	r := &Resolver{lookup: lookup}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// Resolve returns host itself when it is a literal IP, otherwise the first
// address from DNS, preferring IPv4.
func (r *Resolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}

	if r.cache != nil {
		if v, ok := r.cache.Get(host); ok {
			return v.(netip.Addr), nil
		}
	}

	ch := r.group.DoChan(host, func() (any, error) {
		// Shared by every waiter, so it must not inherit one caller's cancellation.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		addrs, err := r.lookup(lctx, host)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("lookup %s: %w", host, err)
		}
		ip, ok := pick(addrs)
		if !ok {
			return netip.Addr{}, fmt.Errorf("lookup %s: %w", host, ErrNoAddress)
		}
		if r.cache != nil {
			r.cache.SetDefault(host, ip)
		}
		return ip, nil
	})

	select {
	case <-ctx.Done():
		return netip.Addr{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return netip.Addr{}, res.Err
		}
		return res.Val.(netip.Addr), nil
	}
}

// Forget drops any cached answer for host.
func (r *Resolver) Forget(host string) {
	if r.cache != nil {
		r.cache.Delete(host)
	}
}

func pick(addrs []netip.Addr) (netip.Addr, bool) {
	var fallback netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is4() {
			return a, true
		}
		if !fallback.IsValid() {
			fallback = a
		}
	}
	return fallback, fallback.IsValid()
}
