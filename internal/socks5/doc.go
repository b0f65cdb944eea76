// Package socks5 holds the SOCKS4/SOCKS5 wire helpers used by sslocal.
//
// The server side works on raw packets as the relay handler reads them: it
// classifies requests, measures address headers and writes the fixed replies
// sslocal's clients expect. The reply encodings come from
// github.com/txthinking/socks5. The client side is a small CONNECT client used
// when relay servers are reached through an outbound SOCKS5 proxy.
package socks5
