// Package upstream describes the encrypted relay servers sslocal forwards
// client connections to.
//
// A Server is immutable once loaded. The configured set is held by a List,
// which is replaced wholesale on configuration reload; strategies and the
// availability monitor key their per-server state by Server.Identifier so
// that state survives a reload for servers that are still configured.
package upstream
