package security

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubResolver returns fixed answers per host.
type stubResolver struct {
	answers map[string][]string
	err     error
}

func (s *stubResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []net.IPAddr
	for _, a := range s.answers[host] {
		out = append(out, net.IPAddr{IP: net.ParseIP(a)})
	}
	return out, nil
}

func TestIsBlocked(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"::1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.blocked, isBlocked(net.ParseIP(tt.ip)))
		})
	}
}

func TestSafeTransportDial_BlocksIPLiterals(t *testing.T) {
	st := NewSafeTransport(nil, &stubResolver{})

	_, err := st.dial(context.Background(), "tcp", "169.254.169.254:80")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedAddress)
}

func TestSafeTransportDial_RejectsWholeAnswerSet(t *testing.T) {
	resolver := &stubResolver{answers: map[string][]string{
		"evil.example.net": {"93.184.216.34", "192.168.1.10"},
	}}
	st := NewSafeTransport(nil, resolver)

	_, err := st.dial(context.Background(), "tcp", "evil.example.net:443")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockedAddress)
	assert.Contains(t, err.Error(), "resolved from evil.example.net")
}

func TestSafeTransportDial_ResolutionFailure(t *testing.T) {
	st := NewSafeTransport(nil, &stubResolver{err: errors.New("NXDOMAIN")})

	_, err := st.dial(context.Background(), "tcp", "nowhere.example.net:443")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolveFailed)
}

func TestCheckRedirect(t *testing.T) {
	resolver := &stubResolver{answers: map[string][]string{
		"safe.example.net":  {"93.184.216.34"},
		"inner.example.net": {"10.0.0.5"},
	}}
	check := CheckRedirect(3, resolver)

	redirectTo := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return (&http.Request{URL: u}).WithContext(context.Background())
	}

	t.Run("allows safe target", func(t *testing.T) {
		err := check(redirectTo("https://safe.example.net/hook"), nil)
		assert.NoError(t, err)
	})

	t.Run("blocks private target", func(t *testing.T) {
		err := check(redirectTo("https://inner.example.net/hook"), nil)
		assert.ErrorIs(t, err, ErrBlockedAddress)
	})

	t.Run("blocks IP literal", func(t *testing.T) {
		err := check(redirectTo("http://127.0.0.1:8080/hook"), nil)
		assert.ErrorIs(t, err, ErrBlockedAddress)
	})

	t.Run("enforces chain limit", func(t *testing.T) {
		via := make([]*http.Request, 3)
		err := check(redirectTo("https://safe.example.net/hook"), via)
		assert.ErrorIs(t, err, ErrTooManyRedirects)
	})
}

func TestValidateURL(t *testing.T) {
	t.Run("rejects blocked IP literal", func(t *testing.T) {
		err := ValidateURL(context.Background(), "http://169.254.169.254/latest/meta-data")
		assert.ErrorIs(t, err, ErrBlockedAddress)
	})

	t.Run("rejects non-http scheme", func(t *testing.T) {
		err := ValidateURL(context.Background(), "ftp://files.example.net/drop")
		assert.ErrorIs(t, err, ErrBlockedAddress)
	})

	t.Run("rejects hostless URL", func(t *testing.T) {
		err := ValidateURL(context.Background(), "not a url")
		assert.ErrorIs(t, err, ErrBlockedAddress)
	})
}
