package onvif

import (
	"context"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventServiceURL = "http://camera.test:8080/onvif/event_service"

func TestSubscriberReceive_FiltersEmptyMessagesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFakeFactory()
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		if n == 1 {
			return &PullMessagesResponse{NotificationMessages: []NotificationMessage{
				{Topic: "tns1:A"},
				{Topic: "tns1:B", Message: strPtr("x")},
				{Topic: "tns1:C", Message: strPtr("y")},
			}}, nil
		}
		cancel()
		return nil, ctx.Err()
	}
	stamp := time.Date(2024, 5, 1, 8, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	s := NewSubscriber(testParams(t, "", ""), f, WithEventClock(func() time.Time { return stamp }))

	var got []DeviceEvent
	err := s.Receive(ctx, mustURL(t, eventServiceURL), func(e DeviceEvent) { got = append(got, e) })
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].Message)
	assert.Equal(t, "tns1:B", got[0].Topic)
	assert.Equal(t, "y", got[1].Message)
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())
	assert.True(t, got[0].Timestamp.Equal(stamp))
}

func TestSubscriberReceive_CreateRequestAndAddresses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refParam := etree.NewElement("dom0:SubscriptionId")
	refParam.CreateAttr("xmlns:dom0", "http://www.example.com/sub")
	refParam.SetText("7")

	f := newFakeFactory()
	f.subscription = &CreatePullPointSubscriptionResponse{
		Address:             "http://192.168.0.90:80/onvif/Subscription?Idx=7",
		ReferenceParameters: []*etree.Element{refParam},
	}
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		cancel()
		return nil, ctx.Err()
	}
	s := NewSubscriber(testParams(t, "", ""), f, WithTerminationTime(30*time.Second))

	require.NoError(t, s.Receive(ctx, mustURL(t, eventServiceURL), nil))

	assert.Equal(t, "PT30S", f.subscribeReq.InitialTerminationTime)
	assert.Equal(t, eventServiceURL, f.addresses["event"][0].String())
	assert.Equal(t, Soap12WSAddressing10, f.versions["event"])

	for _, kind := range []string{"pullpoint", "manager"} {
		addr := f.addresses[kind][0]
		assert.Equal(t, "http://camera.test:8080/onvif/Subscription?Idx=7", addr.String(), kind)
		require.Len(t, addr.ReferenceParameters, 1, kind)
		assert.Equal(t, "7", addr.ReferenceParameters[0].Text())
		assert.Equal(t, Soap12WSAddressing10, f.versions[kind], kind)
	}
	require.NotEmpty(t, f.pullReqs)
	assert.Equal(t, PullMessagesRequest{Timeout: "PT1S", MessageLimit: 1024}, f.pullReqs[0])
}

func TestSubscriberReceive_RenewsAtHalfLease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks int32
	f := newFakeFactory()
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		if n > 12 {
			cancel()
			return nil, ctx.Err()
		}
		ticks += 1000
		return &PullMessagesResponse{}, nil
	}
	s := NewSubscriber(testParams(t, "", ""), f,
		WithTerminationTime(10*time.Second),
		WithTimeGate(TimeGate{Ticks: func() int32 { return ticks }}),
	)

	require.NoError(t, s.Receive(ctx, mustURL(t, eventServiceURL), nil))

	// 5000ms must be exceeded: the first renew follows pull 6, the next pull 12.
	var pullsBeforeRenew []int
	pulls := 0
	for _, c := range f.log.list() {
		switch c {
		case "PullMessages":
			pulls++
		case "Renew":
			pullsBeforeRenew = append(pullsBeforeRenew, pulls)
		}
	}
	assert.Equal(t, []int{6, 12}, pullsBeforeRenew)
	for _, req := range f.renewReqs {
		assert.Equal(t, "PT10S", req.TerminationTime)
	}
}

func TestSubscriberReceive_NoRenewBeforeThreshold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks int32 = 100
	f := newFakeFactory()
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		if n > 5 {
			cancel()
			return nil, ctx.Err()
		}
		ticks += 500
		return &PullMessagesResponse{}, nil
	}
	s := NewSubscriber(testParams(t, "", ""), f,
		WithTerminationTime(60*time.Second),
		WithTimeGate(TimeGate{Ticks: func() int32 { return ticks }}),
	)

	require.NoError(t, s.Receive(ctx, mustURL(t, eventServiceURL), nil))
	assert.Zero(t, f.log.count("Renew"))
}

func TestSubscriberReceive_LongLeaseDoesNotRenewEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks int32
	f := newFakeFactory()
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		if n > 3 {
			cancel()
			return nil, ctx.Err()
		}
		ticks += 1000
		return &PullMessagesResponse{}, nil
	}
	s := NewSubscriber(testParams(t, "", ""), f,
		WithTerminationTime(1200*time.Hour),
		WithTimeGate(TimeGate{Ticks: func() int32 { return ticks }}),
	)

	require.NoError(t, s.Receive(ctx, mustURL(t, eventServiceURL), nil))

	assert.Zero(t, f.log.count("Renew"))
	assert.Equal(t, "PT4294967S", f.subscribeReq.InitialTerminationTime)
}

func TestRenewIntervalMs(t *testing.T) {
	assert.Equal(t, int32(30_000), renewIntervalMs(time.Minute))
	assert.Equal(t, int32(2_147_483_500), renewIntervalMs(MaxTerminationTime))
	assert.Equal(t, int32(2_147_483_500), renewIntervalMs(1200*time.Hour))
}

func TestSubscriberReceive_CancelUnsubscribesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFakeFactory()
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		if n == 3 {
			cancel()
			return &PullMessagesResponse{}, nil
		}
		return &PullMessagesResponse{}, nil
	}
	s := NewSubscriber(testParams(t, "", ""), f)

	require.NoError(t, s.Receive(ctx, mustURL(t, eventServiceURL), nil))

	calls := f.log.list()
	assert.Equal(t, 3, f.log.count("PullMessages"))
	assert.Equal(t, 1, f.log.count("Unsubscribe"))
	assert.Equal(t, "Unsubscribe", calls[len(calls)-1])
	assert.NoError(t, f.unsubscribeCtx, "unsubscribe must not run on the cancelled context")
}

func TestSubscriberReceive_PullFailurePropagatesAndUnsubscribes(t *testing.T) {
	f := newFakeFactory()
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		return nil, errors.New("connection reset")
	}
	s := NewSubscriber(testParams(t, "", ""), f)

	err := s.Receive(context.Background(), mustURL(t, eventServiceURL), nil)
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, 1, f.log.count("Unsubscribe"))
}

func TestSubscriberReceive_RenewFailurePropagates(t *testing.T) {
	var ticks int32
	f := newFakeFactory()
	f.renewErr = errors.New("renew refused")
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		ticks += 40_000
		return &PullMessagesResponse{}, nil
	}
	s := NewSubscriber(testParams(t, "", ""), f, WithTimeGate(TimeGate{Ticks: func() int32 { return ticks }}))

	err := s.Receive(context.Background(), mustURL(t, eventServiceURL), nil)
	assert.EqualError(t, err, "renew refused")
	assert.Equal(t, 1, f.log.count("Renew"))
	assert.Equal(t, 1, f.log.count("Unsubscribe"))
}

func TestSubscriberReceive_UnsubscribeFailureIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFakeFactory()
	f.unsubscribeErr = errors.New("already gone")
	f.pull = func(ctx context.Context, n int) (*PullMessagesResponse, error) {
		cancel()
		return nil, ctx.Err()
	}
	s := NewSubscriber(testParams(t, "", ""), f)

	assert.NoError(t, s.Receive(ctx, mustURL(t, eventServiceURL), nil))
	assert.Equal(t, 1, f.log.count("Unsubscribe"))
}

func TestSubscriberReceive_CreateFailure(t *testing.T) {
	f := newFakeFactory()
	f.subscribeErr = errors.New("subscription limit reached")
	s := NewSubscriber(testParams(t, "", ""), f)

	err := s.Receive(context.Background(), mustURL(t, eventServiceURL), nil)
	assert.EqualError(t, err, "subscription limit reached")
	assert.Zero(t, f.log.count("PullMessages"))
	assert.Zero(t, f.log.count("Unsubscribe"))
}

func TestFormatTerminationTime(t *testing.T) {
	assert.Equal(t, "PT60S", FormatTerminationTime(time.Minute))
	assert.Equal(t, "PT1S", FormatTerminationTime(1500*time.Millisecond))
}
