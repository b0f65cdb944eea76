package cipher

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // One-time auth is defined over HMAC-SHA1.
	"encoding/binary"
	"slices"

	"github.com/die-net/sslocal/internal/socks5"
)

const (
	otaFlag        = 0x10
	otaTagLen      = 10
	otaChunkPrefix = 2
)

// authenticate frames src for one-time auth. The first call flags and tags
// the address header and frames any bytes after it as the first chunk; later
// calls prefix each chunk with its length and tag.
func (e *streamEncryptor) authenticate(src []byte) []byte {
	e.frame = e.frame[:0]
	if !e.headerSent {
		e.headerSent = true
		n, err := socks5.AddressLen(src)
		if err != nil || n > len(src) {
			n = len(src)
		}
		e.frame = append(e.frame, src[:n]...)
		if n > 0 {
			e.frame[0] |= otaFlag
		}
		e.frame = append(e.frame, otaTag(slices.Concat(e.encIV, e.key), e.frame)...)
		src = src[n:]
		if len(src) == 0 {
			return e.frame
		}
	}
	e.frame = e.appendChunk(e.frame, src)
	return e.frame
}

func (e *streamEncryptor) appendChunk(dst, src []byte) []byte {
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], e.chunkID)
	e.chunkID++

	dst = binary.BigEndian.AppendUint16(dst, uint16(len(src)))
	dst = append(dst, otaTag(slices.Concat(e.encIV, id[:]), src)...)
	return append(dst, src...)
}

func otaTag(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	return mac.Sum(nil)[:otaTagLen]
}
