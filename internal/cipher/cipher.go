package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/md5" //nolint:gosec // Required by the relay protocol's key schedule.
	"crypto/rc4" //nolint:gosec // rc4-md5 is a legacy method still offered by relays.
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/crypto/chacha20"
)

var (
	// ErrUnsupportedMethod is returned by New for unknown method names.
	ErrUnsupportedMethod = errors.New("unsupported cipher method")

	// ErrClosed is returned when an Encryptor is used after Close.
	ErrClosed = errors.New("encryptor closed")
)

// Encryptor encrypts the local->remote stream and decrypts the
// remote->local stream of one tunnel. It is not safe for concurrent use;
// callers serialise access.
type Encryptor interface {
	// Encrypt appends the ciphertext of src to dst[:0] and returns it.
	Encrypt(dst, src []byte) ([]byte, error)
	// Decrypt appends the plaintext of src to dst[:0] and returns it. The
	// result is empty while the peer IV is still incomplete.
	Decrypt(dst, src []byte) ([]byte, error)
	// Close releases key material. Further calls return ErrClosed.
	Close() error
}

type method struct {
	keyLen int
	ivLen  int
	stream func(key, iv []byte, decrypt bool) (stdcipher.Stream, error)
}

var methods = map[string]method{
	"aes-128-cfb":   {keyLen: 16, ivLen: 16, stream: newCFB},
	"aes-192-cfb":   {keyLen: 24, ivLen: 16, stream: newCFB},
	"aes-256-cfb":   {keyLen: 32, ivLen: 16, stream: newCFB},
	"aes-128-ctr":   {keyLen: 16, ivLen: 16, stream: newCTR},
	"aes-192-ctr":   {keyLen: 24, ivLen: 16, stream: newCTR},
	"aes-256-ctr":   {keyLen: 32, ivLen: 16, stream: newCTR},
	"chacha20-ietf": {keyLen: chacha20.KeySize, ivLen: chacha20.NonceSize, stream: newChaCha20},
	"xchacha20":     {keyLen: chacha20.KeySize, ivLen: chacha20.NonceSizeX, stream: newChaCha20},
	"rc4-md5":       {keyLen: 16, ivLen: 16, stream: newRC4MD5},
}

// Methods lists the supported method names.
func Methods() []string {
	return slices.Sorted(maps.Keys(methods))
}

// MaxOverhead is the largest number of bytes a single Encrypt call can add
// to its input: the IV, the one-time auth header tag and one chunk prefix.
const MaxOverhead = chacha20.NonceSizeX + otaTagLen + otaChunkPrefix + otaTagLen

// New returns an Encryptor for methodName keyed from password.
func New(methodName, password string, oneTimeAuth bool) (Encryptor, error) {
	m, ok := methods[strings.ToLower(methodName)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, methodName)
	}
	if password == "" {
		return nil, errors.New("cipher: empty password")
	}

	return &streamEncryptor{
		m:   m,
		key: evpBytesToKey([]byte(password), m.keyLen),
		ota: oneTimeAuth,
	}, nil
}

// evpBytesToKey is OpenSSL's EVP_BytesToKey with MD5, one iteration and no
// salt.
func evpBytesToKey(password []byte, keyLen int) []byte {
	var (
		key  = make([]byte, 0, keyLen+md5.Size)
		prev []byte
	)
	for len(key) < keyLen {
		h := md5.New() //nolint:gosec
		h.Write(prev)
		h.Write(password)
		prev = h.Sum(nil)
		key = append(key, prev...)
	}
	return key[:keyLen]
}

func newCFB(key, iv []byte, decrypt bool) (stdcipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if decrypt {
		return stdcipher.NewCFBDecrypter(block, iv), nil //nolint:staticcheck // Mandated by the wire format.
	}
	return stdcipher.NewCFBEncrypter(block, iv), nil //nolint:staticcheck // Mandated by the wire format.
}

func newCTR(key, iv []byte, _ bool) (stdcipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return stdcipher.NewCTR(block, iv), nil
}

func newChaCha20(key, iv []byte, _ bool) (stdcipher.Stream, error) {
	return chacha20.NewUnauthenticatedCipher(key, iv)
}

func newRC4MD5(key, iv []byte, _ bool) (stdcipher.Stream, error) {
	h := md5.New() //nolint:gosec
	h.Write(key)
	h.Write(iv)
	return rc4.NewCipher(h.Sum(nil)) //nolint:gosec
}
