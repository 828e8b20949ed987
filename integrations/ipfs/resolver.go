package ipfs

import (
	"net/url"
	"strings"

	"loyaltykit/core"
)

// DefaultGateway is a public HTTP gateway.
const DefaultGateway = "https://ipfs.io"

// Resolver maps ipfs:// locators onto an HTTP gateway. http(s) locators pass
// through unchanged.
type Resolver struct {
	gateway string
}

func NewResolver(gateway string) (*Resolver, error) {
	if gateway == "" {
		gateway = DefaultGateway
	}
	u, err := url.Parse(gateway)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.E(core.KindConfiguration, "ipfs gateway", "invalid gateway %q", gateway)
	}
	return &Resolver{gateway: strings.TrimRight(gateway, "/")}, nil
}

func (r *Resolver) Resolve(locator string) (string, error) {
	const op = "resolve locator"
	switch {
	case strings.HasPrefix(locator, "ipfs://"):
		path := strings.TrimPrefix(strings.TrimPrefix(locator, "ipfs://"), "ipfs/")
		if path == "" || strings.HasPrefix(path, "/") {
			return "", core.E(core.KindInvalidInput, op, "missing content id in %q", locator)
		}
		return r.gateway + "/ipfs/" + path, nil
	case strings.HasPrefix(locator, "https://"), strings.HasPrefix(locator, "http://"):
		return locator, nil
	}
	return "", core.E(core.KindInvalidInput, op, "unsupported locator %q", locator)
}
