package upstream

import (
	"testing"
)

func TestServerIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		server Server
		want   string
	}{
		{name: "ipv4", server: Server{Host: "192.0.2.1", Port: 8388}, want: "192.0.2.1:8388"},
		{name: "ipv6", server: Server{Host: "2001:db8::1", Port: 443}, want: "[2001:db8::1]:443"},
		{name: "domain", server: Server{Host: "relay.example", Port: 80}, want: "relay.example:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.server.Identifier(); got != tt.want {
				t.Fatalf("expected %q got %q", tt.want, got)
			}
		})
	}
}

func TestServerFriendlyName(t *testing.T) {
	t.Parallel()

	s := Server{Host: "relay.example", Port: 8388}
	if got := s.FriendlyName(); got != "relay.example:8388" {
		t.Fatalf("expected identifier got %q", got)
	}
	s.Remarks = "tokyo"
	if got := s.FriendlyName(); got != "tokyo (relay.example:8388)" {
		t.Fatalf("unexpected friendly name %q", got)
	}
}

func TestValidateAll(t *testing.T) {
	t.Parallel()

	ok := &Server{Host: "a.example", Port: 1, Method: "aes-256-cfb", Password: "p"}

	tests := []struct {
		name    string
		servers []*Server
		wantErr bool
	}{
		{name: "empty", servers: nil},
		{name: "single", servers: []*Server{ok}},
		{name: "duplicate", servers: []*Server{ok, {Host: "a.example", Port: 1, Method: "rc4-md5", Password: "q"}}, wantErr: true},
		{name: "missing host", servers: []*Server{{Port: 1, Method: "m", Password: "p"}}, wantErr: true},
		{name: "bad port", servers: []*Server{{Host: "h", Port: 70000, Method: "m", Password: "p"}}, wantErr: true},
		{name: "missing password", servers: []*Server{{Host: "h", Port: 1, Method: "m"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAll(tt.servers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestListUpdate(t *testing.T) {
	t.Parallel()

	a := &Server{Host: "a", Port: 1}
	b := &Server{Host: "b", Port: 2}

	in := []*Server{a}
	l := NewList(in)
	in[0] = b
	if got := l.Servers(); len(got) != 1 || got[0] != a {
		t.Fatalf("list aliased caller slice: %v", got)
	}

	l.Update([]*Server{a, b})
	if got := l.Servers(); len(got) != 2 {
		t.Fatalf("expected 2 servers got %d", len(got))
	}

	ids := Identifiers(l.Servers())
	if _, ok := ids["b:2"]; !ok {
		t.Fatalf("missing b:2 in %v", ids)
	}
}
