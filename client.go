package onvif

import (
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
)

const schemePrefix = "http://"

// NewConnectionParameters parses address, prefixing http:// when no scheme is given, and
// returns parameters with the given credentials. A zero timeout selects DefaultTimeout.
func NewConnectionParameters(address, username, password string, timeout time.Duration) (ConnectionParameters, error) {
	u, err := ParseDeviceAddress(address)
	if err != nil {
		return ConnectionParameters{}, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return ConnectionParameters{
		URI:         u,
		Credentials: Credentials{Username: username, Password: password},
		Timeout:     timeout,
	}, nil
}

// ParseDeviceAddress accepts "host", "host:port" or a full http(s) URL.
func ParseDeviceAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(getFirstAddress(address))
	if address == "" {
		return nil, errors.NotValidf("empty device address")
	}
	if !strings.Contains(address, "://") {
		address = schemePrefix + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.NewNotValid(err, "bad device address")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NotValidf("device address scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.NotValidf("device address %q without host", address)
	}
	return u, nil
}

// DeviceServiceURI returns the device management endpoint for the parameters: the URI's
// own path, or DefaultDeviceServicePath when the URI has none.
func (p ConnectionParameters) DeviceServiceURI() *url.URL {
	path := p.URI.EscapedPath()
	if path == "" || path == "/" {
		path = DefaultDeviceServicePath
	}
	return p.ServiceURI(path)
}

// ServiceURI resolves a path-and-query against the configured device URI. Only the
// path and query of ref are used so a device cannot redirect requests to another host.
func (p ConnectionParameters) ServiceURI(pathAndQuery string) *url.URL {
	ref, err := url.Parse(pathAndQuery)
	if err != nil {
		ref = &url.URL{Path: pathAndQuery}
	}
	return p.rebase(ref)
}

func (p ConnectionParameters) rebase(ref *url.URL) *url.URL {
	rel := &url.URL{Path: ref.Path, RawPath: ref.RawPath, RawQuery: ref.RawQuery}
	if rel.Path == "" {
		rel.Path = "/"
	}
	return p.URI.ResolveReference(rel)
}

// getFirstAddress extracts the first address if multiple are provided
func getFirstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return address
}
