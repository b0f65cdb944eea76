package upstream

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Server is a single encrypted relay endpoint.
type Server struct {
	Host        string `mapstructure:"server" json:"server"`
	Port        int    `mapstructure:"server_port" json:"server_port"`
	Method      string `mapstructure:"method" json:"method"`
	Password    string `mapstructure:"password" json:"password"`
	OneTimeAuth bool   `mapstructure:"auth" json:"auth"`
	Remarks     string `mapstructure:"remarks" json:"remarks,omitempty"`
}

// Identifier returns the stable key used for per-server state, host:port.
func (s *Server) Identifier() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Address is the dial address of the server.
func (s *Server) Address() string {
	return s.Identifier()
}

// FriendlyName returns the remarks followed by the identifier, or just the
// identifier when no remarks are set.
func (s *Server) FriendlyName() string {
	if s.Remarks == "" {
		return s.Identifier()
	}
	return fmt.Sprintf("%s (%s)", s.Remarks, s.Identifier())
}

func (s *Server) String() string {
	return s.Identifier()
}

// Validate checks that the server can be dialed and has cipher settings.
func (s *Server) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return errors.New("server: empty host")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("server %s: invalid port %d", s.Host, s.Port)
	}
	if s.Method == "" {
		return fmt.Errorf("server %s: empty method", s.Identifier())
	}
	if s.Password == "" {
		return fmt.Errorf("server %s: empty password", s.Identifier())
	}
	return nil
}
