package onvif

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif-events/internal/log"
)

// ClientFactory creates the typed proxies used by a session. One factory belongs to one
// session; the security token set on it applies to every proxy it creates until replaced.
type ClientFactory interface {
	NewDeviceClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) DeviceClient
	NewEventClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) EventClient
	NewPullPointClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) PullPointClient
	NewSubscriptionManagerClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) SubscriptionManagerClient
	// SetSecurityToken replaces the token attached to outgoing messages. Nil clears it.
	SetSecurityToken(token *SecurityToken)
}

// FactoryOption configures an HTTPClientFactory.
type FactoryOption func(*HTTPClientFactory)

// WithFactoryLogger sets the logger used for SOAP call tracing.
func WithFactoryLogger(logger zerolog.Logger) FactoryOption {
	return func(f *HTTPClientFactory) { f.logger = logger }
}

// WithInsecureTLS skips TLS certificate verification for https devices.
func WithInsecureTLS(insecure bool) FactoryOption {
	return func(f *HTTPClientFactory) { f.insecureTLS = insecure }
}

// HTTPClientFactory creates SOAP-over-HTTP proxies.
type HTTPClientFactory struct {
	mu          sync.RWMutex
	token       *SecurityToken
	insecureTLS bool
	logger      zerolog.Logger
}

// NewHTTPClientFactory returns a factory without a security token.
func NewHTTPClientFactory(opts ...FactoryOption) *HTTPClientFactory {
	f := &HTTPClientFactory{logger: log.WithComponent("soap")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSecurityToken implements ClientFactory.
func (f *HTTPClientFactory) SetSecurityToken(token *SecurityToken) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

// SecurityToken implements TokenSource; proxies read it on every call.
func (f *HTTPClientFactory) SecurityToken() *SecurityToken {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

func (f *HTTPClientFactory) newSOAPClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) *soapClient {
	return newSOAPClient(address, params, version, f.insecureTLS, f.logger,
		SecurityInterceptor(params.Credentials, f))
}

// NewDeviceClient implements ClientFactory.
func (f *HTTPClientFactory) NewDeviceClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) DeviceClient {
	return &deviceClient{soap: f.newSOAPClient(address, params, version)}
}

// NewEventClient implements ClientFactory.
func (f *HTTPClientFactory) NewEventClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) EventClient {
	return &eventClient{soap: f.newSOAPClient(address, params, version)}
}

// NewPullPointClient implements ClientFactory.
func (f *HTTPClientFactory) NewPullPointClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) PullPointClient {
	return &pullPointClient{soap: f.newSOAPClient(address, params, version)}
}

// NewSubscriptionManagerClient implements ClientFactory.
func (f *HTTPClientFactory) NewSubscriptionManagerClient(address EndpointAddress, params ConnectionParameters, version MessageVersion) SubscriptionManagerClient {
	return &subscriptionManagerClient{soap: f.newSOAPClient(address, params, version)}
}
