// Package cipher implements the stream Encryptor used on the tunnel between
// sslocal and a relay server.
//
// The wire format is [IV][ciphertext...] in each direction: the first
// Encrypt call emits a random IV ahead of the ciphertext and Decrypt consumes
// the peer's IV from the first bytes it sees, however they are split across
// reads. With one-time auth enabled, the first Encrypt call is treated as the
// address header and subsequent calls as authenticated chunks.
package cipher
