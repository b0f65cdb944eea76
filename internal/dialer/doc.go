// Package dialer provides the outbound dialers sslocal uses to reach relay
// servers.
//
// Dialers implement a small interface (DialContext). The direct dialer
// resolves relay host names itself, trying a literal IP first and falling back
// to a cached DNS lookup. The HTTP CONNECT and SOCKS5 dialers reach relays
// through an outbound forward proxy and leave name resolution to it.
package dialer
