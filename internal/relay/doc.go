// Package relay implements sslocal's SOCKS front end.
//
// A Relay accepts local client connections and hands each one to a Handler,
// which runs the SOCKS4/SOCKS5 handshake, asks the active strategy for a relay
// server, connects to it with a bounded number of retries and then pumps
// encrypted bytes in both directions until both sides are done. The Relay
// keeps every live Handler in a registry and periodically closes those that
// have been idle too long.
package relay
