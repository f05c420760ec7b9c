package validation

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/gleaner/internal/models"
)

func staticLookup(addrs map[string][]string) LookupFunc {
	return func(ctx context.Context, host string) ([]string, error) {
		if ips, ok := addrs[host]; ok {
			return ips, nil
		}
		return nil, errors.New("no such host")
	}
}

func TestURLValidator_Validate(t *testing.T) {
	validator := NewURLValidator(false).WithLookup(staticLookup(map[string][]string{
		"example.org":     {"93.184.216.34"},
		"internal.corp":   {"10.1.2.3"},
		"rebind.example":  {"93.184.216.34", "192.168.1.10"},
		"metadata.google": {"169.254.169.254"},
	}))

	tests := []struct {
		name string
		url  string
		kind models.FailureKind
	}{
		{name: "public host", url: "https://example.org/page"},
		{name: "ftp scheme", url: "ftp://example.org/file", kind: models.FailureInvalidURL},
		{name: "javascript scheme", url: "javascript:alert(1)", kind: models.FailureInvalidURL},
		{name: "missing host", url: "http:///path", kind: models.FailureInvalidURL},
		{name: "loopback literal", url: "http://127.0.0.1:8080/", kind: models.FailureBlocked},
		{name: "ipv6 loopback", url: "http://[::1]/", kind: models.FailureBlocked},
		{name: "private resolution", url: "http://internal.corp/", kind: models.FailureBlocked},
		{name: "any private address", url: "http://rebind.example/", kind: models.FailureBlocked},
		{name: "link local", url: "http://metadata.google/computeMetadata", kind: models.FailureBlocked},
		{name: "unresolvable", url: "http://nowhere.invalid/", kind: models.FailureNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := validator.Validate(context.Background(), tt.url)
			if tt.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, "example.org", u.Hostname())
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, models.FetchFailureKind(err))
		})
	}
}

func TestURLValidator_AllowPrivate(t *testing.T) {
	validator := NewURLValidator(true)

	_, err := validator.Validate(context.Background(), "http://127.0.0.1:9000/")
	assert.NoError(t, err)

	_, err = validator.Validate(context.Background(), "file:///etc/passwd")
	assert.Equal(t, models.FailureInvalidURL, models.FetchFailureKind(err))
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, IsPrivateIP(net.ParseIP("172.20.0.1")))
	assert.True(t, IsPrivateIP(net.ParseIP("100.64.1.1")))
	assert.True(t, IsPrivateIP(net.ParseIP("fd00::1")))
	assert.True(t, IsPrivateIP(net.ParseIP("0.0.0.0")))
	assert.True(t, IsPrivateIP(net.ParseIP("0.1.2.3")))
	assert.True(t, IsPrivateIP(net.ParseIP("198.18.0.1")))
	assert.True(t, IsPrivateIP(net.ParseIP("224.0.0.251")))
	assert.True(t, IsPrivateIP(net.ParseIP("239.255.255.250")))
	assert.True(t, IsPrivateIP(net.ParseIP("255.255.255.255")))
	assert.True(t, IsPrivateIP(net.ParseIP("ff02::1")))
	assert.False(t, IsPrivateIP(net.ParseIP("8.8.8.8")))
	assert.False(t, IsPrivateIP(net.ParseIP("2606:4700::1111")))
}

func TestNewTransport_BlocksPrivateDial(t *testing.T) {
	transport := NewTransport(false)

	_, err := transport.DialContext(context.Background(), "tcp", "127.0.0.1:80")
	require.Error(t, err)
	assert.Equal(t, models.FailureBlocked, models.FetchFailureKind(err))
}
