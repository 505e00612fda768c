package onvif

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// callLog records proxy calls across every fake created by one factory.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(name string) int {
	n := 0
	for _, c := range l.list() {
		if c == name {
			n++
		}
	}
	return n
}

type fakeFactory struct {
	log *callLog

	mu        sync.Mutex
	token     *SecurityToken
	tokenSets int
	withToken map[string]int
	addresses map[string][]EndpointAddress
	versions  map[string]MessageVersion

	deviceTime  *time.Time
	timeErr     error
	onTimeQuery func()
	caps        Capabilities
	capsErr     error

	subscription   *CreatePullPointSubscriptionResponse
	subscribeErr   error
	subscribeReq   CreatePullPointSubscriptionRequest
	pull           func(ctx context.Context, n int) (*PullMessagesResponse, error)
	pullReqs       []PullMessagesRequest
	renewReqs      []RenewRequest
	renewErr       error
	unsubscribeErr error
	unsubscribeCtx error
}

func newFakeFactory() *fakeFactory {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &fakeFactory{
		log:        &callLog{},
		withToken:  map[string]int{},
		addresses:  map[string][]EndpointAddress{},
		versions:   map[string]MessageVersion{},
		deviceTime: &now,
		caps: Capabilities{
			EventsXAddr:        "http://192.168.0.90/onvif/event_service",
			WSPullPointSupport: true,
		},
		subscription: &CreatePullPointSubscriptionResponse{
			Address: "http://192.168.0.90/onvif/Subscription?Idx=3",
		},
	}
}

func (f *fakeFactory) record(name string) {
	f.mu.Lock()
	if f.token != nil {
		f.withToken[name]++
	}
	f.mu.Unlock()
	f.log.add(name)
}

func (f *fakeFactory) proxy(kind string, address EndpointAddress, version MessageVersion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[kind] = append(f.addresses[kind], address)
	f.versions[kind] = version
}

func (f *fakeFactory) SetSecurityToken(token *SecurityToken) {
	f.mu.Lock()
	f.token = token
	f.tokenSets++
	f.mu.Unlock()
}

func (f *fakeFactory) currentToken() *SecurityToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeFactory) NewDeviceClient(address EndpointAddress, _ ConnectionParameters, version MessageVersion) DeviceClient {
	f.proxy("device", address, version)
	return &fakeDevice{f: f}
}

func (f *fakeFactory) NewEventClient(address EndpointAddress, _ ConnectionParameters, version MessageVersion) EventClient {
	f.proxy("event", address, version)
	return &fakeEvents{f: f}
}

func (f *fakeFactory) NewPullPointClient(address EndpointAddress, _ ConnectionParameters, version MessageVersion) PullPointClient {
	f.proxy("pullpoint", address, version)
	return &fakePullPoint{f: f}
}

func (f *fakeFactory) NewSubscriptionManagerClient(address EndpointAddress, _ ConnectionParameters, version MessageVersion) SubscriptionManagerClient {
	f.proxy("manager", address, version)
	return &fakeManager{f: f}
}

type fakeDevice struct{ f *fakeFactory }

func (d *fakeDevice) GetSystemDateAndTime(ctx context.Context) (*SystemDateTime, error) {
	d.f.record("GetSystemDateAndTime")
	if d.f.onTimeQuery != nil {
		d.f.onTimeQuery()
	}
	if d.f.timeErr != nil {
		return nil, d.f.timeErr
	}
	return &SystemDateTime{UTC: d.f.deviceTime}, nil
}

func (d *fakeDevice) GetCapabilities(ctx context.Context, categories ...CapabilityCategory) (*Capabilities, error) {
	d.f.record("GetCapabilities")
	if d.f.capsErr != nil {
		return nil, d.f.capsErr
	}
	caps := d.f.caps
	return &caps, nil
}

func (d *fakeDevice) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	d.f.record("GetDeviceInformation")
	return &DeviceInformation{Manufacturer: "Acme"}, nil
}

func (d *fakeDevice) Close() error { return nil }

type fakeEvents struct{ f *fakeFactory }

func (e *fakeEvents) CreatePullPointSubscription(ctx context.Context, req CreatePullPointSubscriptionRequest) (*CreatePullPointSubscriptionResponse, error) {
	e.f.record("CreatePullPointSubscription")
	e.f.mu.Lock()
	e.f.subscribeReq = req
	e.f.mu.Unlock()
	if e.f.subscribeErr != nil {
		return nil, e.f.subscribeErr
	}
	return e.f.subscription, nil
}

func (e *fakeEvents) Close() error { return nil }

type fakePullPoint struct {
	f *fakeFactory
	n int
}

func (p *fakePullPoint) PullMessages(ctx context.Context, req PullMessagesRequest) (*PullMessagesResponse, error) {
	p.f.record("PullMessages")
	p.f.mu.Lock()
	p.f.pullReqs = append(p.f.pullReqs, req)
	p.f.mu.Unlock()
	p.n++
	if p.f.pull == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.f.pull(ctx, p.n)
}

func (p *fakePullPoint) Close() error { return nil }

type fakeManager struct{ f *fakeFactory }

func (m *fakeManager) Renew(ctx context.Context, req RenewRequest) error {
	m.f.record("Renew")
	m.f.mu.Lock()
	m.f.renewReqs = append(m.f.renewReqs, req)
	m.f.mu.Unlock()
	return m.f.renewErr
}

func (m *fakeManager) Unsubscribe(ctx context.Context) error {
	m.f.record("Unsubscribe")
	m.f.mu.Lock()
	m.f.unsubscribeCtx = ctx.Err()
	m.f.mu.Unlock()
	return m.f.unsubscribeErr
}

func (m *fakeManager) Close() error { return nil }

func testParams(t *testing.T, username, password string) ConnectionParameters {
	t.Helper()
	params, err := NewConnectionParameters("http://camera.test:8080/onvif/device_service", username, password, time.Second)
	require.NoError(t, err)
	return params
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func strPtr(s string) *string { return &s }
