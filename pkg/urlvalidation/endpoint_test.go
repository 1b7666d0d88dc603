package urlvalidation

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func staticLookup(addrs map[string][]string) Option {
	return WithLookup(func(_ context.Context, host string) ([]string, error) {
		if ips, ok := addrs[host]; ok {
			return ips, nil
		}
		if net.ParseIP(host) != nil {
			return []string{host}, nil
		}
		return nil, errors.New("no such host")
	})
}

func TestValidateEndpoint(t *testing.T) {
	lookup := staticLookup(map[string][]string{
		"api.example.com": {"93.184.216.34"},
		"localhost":       {"127.0.0.1", "::1"},
		"intranet.local":  {"10.1.2.3"},
	})

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid https", url: "https://api.example.com/answer", wantErr: false},
		{name: "valid http", url: "http://api.example.com/answer", wantErr: false},
		{name: "localhost", url: "http://localhost/answer", wantErr: true},
		{name: "private name", url: "https://intranet.local/answer", wantErr: true},
		{name: "loopback ip", url: "http://127.0.0.1/answer", wantErr: true},
		{name: "private 172.16.x", url: "http://172.16.0.1/answer", wantErr: true},
		{name: "ftp scheme", url: "ftp://api.example.com/file", wantErr: true},
		{name: "file scheme", url: "file:///etc/passwd", wantErr: true},
		{name: "no scheme", url: "api.example.com/answer", wantErr: true},
		{name: "empty host", url: "http:///path", wantErr: true},
		{name: "ipv6 loopback", url: "http://[::1]/answer", wantErr: true},
		{name: "unresolvable", url: "https://missing.example.org/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpoint(t.Context(), tt.url, lookup)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpoint(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEndpointExemptions(t *testing.T) {
	if err := ValidateEndpoint(t.Context(), "http://127.0.0.1:11434/api", AllowPrivateIPs()); err != nil {
		t.Errorf("AllowPrivateIPs: %v", err)
	}
	if err := ValidateEndpoint(t.Context(), "http://LocalHost:8080/hook", AllowHosts("localhost")); err != nil {
		t.Errorf("AllowHosts: %v", err)
	}
	if err := ValidateEndpoint(t.Context(), "gopher://localhost/", AllowPrivateIPs()); err == nil {
		t.Error("scheme check must still apply")
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"10.0.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.0", false},
		{"192.168.0.1", true},
		{"169.254.1.1", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"255.255.255.255", true},
		{"fe80::1", true},
		{"2606:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("invalid test IP: %s", tt.ip)
			}
			if IsPrivateIP(ip) != tt.private {
				t.Errorf("IsPrivateIP(%q) = %v, want %v", tt.ip, !tt.private, tt.private)
			}
		})
	}
}

func TestValidateEndpointErrorKinds(t *testing.T) {
	lookup := staticLookup(map[string][]string{"intranet.local": {"10.1.2.3"}})

	if err := ValidateEndpoint(t.Context(), "ftp://api.example.com/", lookup); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("bad scheme err = %v, want ErrInvalidEndpoint", err)
	}
	if err := ValidateEndpoint(t.Context(), "https://intranet.local/", lookup); !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("private err = %v, want ErrPrivateAddress", err)
	}
	err := ValidateEndpoint(t.Context(), "https://missing.example.org/", lookup)
	if err == nil || errors.Is(err, ErrInvalidEndpoint) || errors.Is(err, ErrPrivateAddress) {
		t.Errorf("lookup failure err = %v, want a plain resolution error", err)
	}
}

func TestDialControl(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:80", "[::1]:443", "10.0.0.5:8080", "169.254.169.254:80"} {
		if err := DialControl("tcp", addr, nil); !errors.Is(err, ErrPrivateAddress) {
			t.Errorf("DialControl(%q) = %v, want ErrPrivateAddress", addr, err)
		}
	}
	if err := DialControl("tcp", "93.184.216.34:443", nil); err != nil {
		t.Errorf("public address refused: %v", err)
	}
}

func TestNewClientRefusesPrivateConnections(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer ts.Close()

	resp, err := NewClient(5 * time.Second).Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected loopback connection to be refused")
	}
	if !errors.Is(err, ErrPrivateAddress) {
		t.Errorf("err = %v, want ErrPrivateAddress", err)
	}
	if hits != 0 {
		t.Errorf("server saw %d requests, want 0", hits)
	}
}
