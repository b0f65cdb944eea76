package socks5

import (
	"encoding/binary"
	"errors"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// Version4 and Version5 are the protocol version bytes of the first packet.
	Version4 = 0x04
	Version5 = txsocks5.Ver

	CmdConnect = txsocks5.CmdConnect
	CmdUDP     = txsocks5.CmdUDP

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6
)

var (
	// ErrShortHeader means more bytes are needed to complete the header.
	ErrShortHeader = errors.New("socks: short address header")

	// ErrBadAddressType is returned for an unknown ATYP.
	ErrBadAddressType = errors.New("socks: bad address type")
)

// AddressLen returns the length of the ATYP|ADDR|PORT header starting at
// b[0]. Only the leading bytes needed to size the header are inspected.
func AddressLen(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, ErrShortHeader
	}
	switch b[0] &^ 0x10 {
	case ATYPIPv4:
		return 1 + net.IPv4len + 2, nil
	case ATYPIPv6:
		return 1 + net.IPv6len + 2, nil
	case ATYPDomain:
		if len(b) < 2 {
			return 0, ErrShortHeader
		}
		return 2 + int(b[1]) + 2, nil
	default:
		return 0, ErrBadAddressType
	}
}

// ParseAddress decodes an ATYP|ADDR|PORT header into host:port and returns
// the number of bytes consumed.
func ParseAddress(b []byte) (string, int, error) {
	n, err := AddressLen(b)
	if err != nil {
		return "", 0, err
	}
	if len(b) < n {
		return "", 0, ErrShortHeader
	}

	var host string
	switch b[0] &^ 0x10 {
	case ATYPIPv4, ATYPIPv6:
		host = net.IP(b[1 : n-2]).String()
	case ATYPDomain:
		host = string(b[2 : n-2])
	}
	port := binary.BigEndian.Uint16(b[n-2 : n])
	return net.JoinHostPort(host, strconv.Itoa(int(port))), n, nil
}

// Socks4Header builds the relay address header for a complete SOCKS4 or
// SOCKS4a CONNECT packet (VN CD DSTPORT DSTIP USERID NUL [DOMAIN NUL]). It
// returns nil when the packet is truncated or not a CONNECT.
func Socks4Header(pkt []byte) []byte {
	if len(pkt) < 9 || pkt[0] != Version4 || pkt[1] != CmdConnect {
		return nil
	}
	port := pkt[2:4]
	ip := pkt[4:8]

	userEnd := indexNUL(pkt[8:])
	if userEnd < 0 {
		return nil
	}

	// SOCKS4a: 0.0.0.x with x != 0 means a domain follows the user id.
	if ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0 {
		rest := pkt[8+userEnd+1:]
		end := indexNUL(rest)
		if end <= 0 || end > 255 {
			return nil
		}
		h := make([]byte, 0, 2+end+2)
		h = append(h, ATYPDomain, byte(end))
		h = append(h, rest[:end]...)
		return append(h, port...)
	}

	h := make([]byte, 0, 1+net.IPv4len+2)
	h = append(h, ATYPIPv4)
	h = append(h, ip...)
	return append(h, port...)
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
