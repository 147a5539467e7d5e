package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"net/url"

	"github.com/coah80/reelsave/internal/config"
)

// ProxyPool is a rotating set of numbered proxy accounts on one gateway,
// addressed as <prefix>-<n>:<password>@host:port for n in 1..Count.
type ProxyPool struct {
	Host       string
	Port       string
	UserPrefix string
	Password   string
	Count      int
}

func ConfiguredProxyPool() ProxyPool {
	return ProxyPool{
		Host:       config.ProxyHost,
		Port:       config.ProxyPort,
		UserPrefix: config.ProxyUserPrefix,
		Password:   config.ProxyPassword,
		Count:      config.ProxyCount,
	}
}

func (p ProxyPool) Enabled() bool {
	return p.Host != "" && p.UserPrefix != "" && p.Password != "" && p.Count > 0
}

// Pick returns a random account from the pool, or nil when the pool is
// disabled.
func (p ProxyPool) Pick() *url.URL {
	if !p.Enabled() {
		return nil
	}
	nBig, err := rand.Int(rand.Reader, big.NewInt(int64(p.Count)))
	if err != nil {
		nBig = big.NewInt(0)
	}
	port := p.Port
	if port == "" {
		port = "80"
	}
	return &url.URL{
		Scheme: "http",
		User:   url.UserPassword(fmt.Sprintf("%s-%d", p.UserPrefix, nBig.Int64()+1), p.Password),
		Host:   p.Host + ":" + port,
	}
}

// TransportProxy is an http.Transport Proxy func that rotates through the
// pool per connection. A disabled pool falls back to the environment.
func (p ProxyPool) TransportProxy() func(*http.Request) (*url.URL, error) {
	if !p.Enabled() {
		return http.ProxyFromEnvironment
	}
	return func(*http.Request) (*url.URL, error) {
		return p.Pick(), nil
	}
}
