package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Socks4Granted is the fixed SOCKS4 "request granted" reply.
var Socks4Granted = []byte{0x00, 0x5a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// WriteSocks4Granted writes Socks4Granted to w.
func WriteSocks4Granted(w io.Writer) error {
	if _, err := w.Write(Socks4Granted); err != nil {
		return fmt.Errorf("socks4 reply: %w", err)
	}
	return nil
}

// WriteMethodReply selects the no-authentication method.
func WriteMethodReply(w io.Writer) error {
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(w); err != nil {
		return fmt.Errorf("method reply: %w", err)
	}
	return nil
}

// WriteConnectReply writes the CONNECT success reply with a zero IPv4 bound
// address: 05 00 00 01 00 00 00 00 00 00.
func WriteConnectReply(w io.Writer) error {
	if _, err := newZeroAddrReply(txsocks5.RepSuccess, txsocks5.ATYPIPv4).WriteTo(w); err != nil {
		return fmt.Errorf("connect reply: %w", err)
	}
	return nil
}

// WriteUDPAssociateReply writes a UDP ASSOCIATE success reply carrying
// local, the endpoint the client connected to.
func WriteUDPAssociateReply(w io.Writer, local net.Addr) error {
	var (
		ip   net.IP
		port int
	)
	if ta, ok := local.(*net.TCPAddr); ok {
		ip, port = ta.IP, ta.Port
	}

	atyp, addr := txsocks5.ATYPIPv6, []byte(net.IPv6zero)
	if ip4 := ip.To4(); ip4 != nil {
		atyp, addr = txsocks5.ATYPIPv4, []byte(ip4)
	} else if ip16 := ip.To16(); ip16 != nil {
		addr = []byte(ip16)
	}

	pb := binary.BigEndian.AppendUint16(nil, uint16(port)) //nolint:gosec // Port fits in 16 bits.
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, pb).WriteTo(w); err != nil {
		return fmt.Errorf("udp associate reply: %w", err)
	}
	return nil
}

// WriteCommandNotSupportedReply writes a SOCKS5 reply indicating that the
// requested command is not supported.
func WriteCommandNotSupportedReply(w io.Writer, atyp byte) {
	_, _ = newZeroAddrReply(txsocks5.RepCommandNotSupported, atyp).WriteTo(w)
}

func newZeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}
