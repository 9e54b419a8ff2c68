package ssrf

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPublicIPAddress(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		ip     string
		public bool
	}{
		{ip: "8.8.8.8", public: true},
		{ip: "127.0.0.1", public: false},
		{ip: "10.1.2.3", public: false},
		{ip: "192.168.1.1", public: false},
		{ip: "169.254.169.254", public: false},
		{ip: "172.20.0.1", public: false},
		{ip: "2606:4700:4700::1111", public: true},
		{ip: "::1", public: false},
		{ip: "fe80::1", public: false},
		{ip: "fd00::1", public: false},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.public, IsPublicIPAddress(net.ParseIP(fix.ip)), fix.ip)
	}
}

func TestValidateURL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	assert.NoError(ValidateURL(ctx, "https://8.8.8.8/hook"))
	assert.ErrorIs(ValidateURL(ctx, "http://127.0.0.1:8080/hook"), ErrNotPublic)
	assert.ErrorIs(ValidateURL(ctx, "http://[::1]/hook"), ErrNotPublic)
	assert.ErrorIs(ValidateURL(ctx, "http://localhost/hook"), ErrNotPublic)
	assert.Error(ValidateURL(ctx, "ftp://8.8.8.8/file"))
	assert.Error(ValidateURL(ctx, "https:///nohost"))
	assert.Error(ValidateURL(ctx, "::not a url"))
}
