package onvif

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const (
	actionCreatePullPointSubscription = "http://www.onvif.org/ver10/events/wsdl/EventPortType/CreatePullPointSubscriptionRequest"
	actionPullMessages                = "http://www.onvif.org/ver10/events/wsdl/PullPointSubscription/PullMessagesRequest"
	actionRenew                       = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/RenewRequest"
	actionUnsubscribe                 = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/UnsubscribeRequest"
)

// EventClient is the event service proxy.
type EventClient interface {
	CreatePullPointSubscription(ctx context.Context, req CreatePullPointSubscriptionRequest) (*CreatePullPointSubscriptionResponse, error)
	Close() error
}

// PullPointClient is the pull point proxy of one subscription.
type PullPointClient interface {
	PullMessages(ctx context.Context, req PullMessagesRequest) (*PullMessagesResponse, error)
	Close() error
}

// SubscriptionManagerClient manages the lease of one subscription.
type SubscriptionManagerClient interface {
	Renew(ctx context.Context, req RenewRequest) error
	Unsubscribe(ctx context.Context) error
	Close() error
}

// FormatTerminationTime renders a lease as an xs:duration in whole seconds, e.g. "PT60S".
func FormatTerminationTime(d time.Duration) string {
	return fmt.Sprintf("PT%dS", int(d.Seconds()))
}

type eventClient struct {
	soap *soapClient
}

func (c *eventClient) Close() error { return c.soap.close() }

func (c *eventClient) CreatePullPointSubscription(ctx context.Context, req CreatePullPointSubscriptionRequest) (*CreatePullPointSubscriptionResponse, error) {
	payload := etree.NewElement("tev:CreatePullPointSubscription")
	if req.InitialTerminationTime != "" {
		payload.CreateElement("tev:InitialTerminationTime").SetText(req.InitialTerminationTime)
	}

	resp, err := c.soap.call(ctx, actionCreatePullPointSubscription, payload)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create pull point subscription")
	}

	ref := resp.SelectElement("SubscriptionReference")
	if ref == nil {
		return nil, errors.New("failed to create pull point subscription: response without SubscriptionReference")
	}
	result := &CreatePullPointSubscriptionResponse{
		Address:         textOf(ref.SelectElement("Address")),
		CurrentTime:     parseXMLTime(textOf(resp.SelectElement("CurrentTime"))),
		TerminationTime: parseXMLTime(textOf(resp.SelectElement("TerminationTime"))),
	}
	if result.Address == "" {
		return nil, errors.New("failed to create pull point subscription: empty subscription address")
	}
	if params := ref.SelectElement("ReferenceParameters"); params != nil {
		for _, p := range params.ChildElements() {
			result.ReferenceParameters = append(result.ReferenceParameters, detach(p))
		}
	}
	return result, nil
}

type pullPointClient struct {
	soap *soapClient
}

func (c *pullPointClient) Close() error { return c.soap.close() }

func (c *pullPointClient) PullMessages(ctx context.Context, req PullMessagesRequest) (*PullMessagesResponse, error) {
	payload := etree.NewElement("tev:PullMessages")
	payload.CreateElement("tev:Timeout").SetText(req.Timeout)
	payload.CreateElement("tev:MessageLimit").SetText(strconv.Itoa(req.MessageLimit))

	resp, err := c.soap.call(ctx, actionPullMessages, payload)
	if err != nil {
		return nil, errors.Annotate(err, "failed to pull messages")
	}

	result := &PullMessagesResponse{
		CurrentTime:     parseXMLTime(textOf(resp.SelectElement("CurrentTime"))),
		TerminationTime: parseXMLTime(textOf(resp.SelectElement("TerminationTime"))),
	}
	for _, holder := range resp.SelectElements("NotificationMessage") {
		msg := NotificationMessage{Topic: textOf(holder.SelectElement("Topic"))}
		if body := holder.SelectElement("Message"); body != nil {
			content := innerXML(body)
			msg.Message = &content
		}
		result.NotificationMessages = append(result.NotificationMessages, msg)
	}
	return result, nil
}

type subscriptionManagerClient struct {
	soap *soapClient
}

func (c *subscriptionManagerClient) Close() error { return c.soap.close() }

func (c *subscriptionManagerClient) Renew(ctx context.Context, req RenewRequest) error {
	payload := etree.NewElement("wsnt:Renew")
	payload.CreateElement("wsnt:TerminationTime").SetText(req.TerminationTime)

	if _, err := c.soap.call(ctx, actionRenew, payload); err != nil {
		return errors.Annotate(err, "failed to renew subscription")
	}
	return nil
}

func (c *subscriptionManagerClient) Unsubscribe(ctx context.Context) error {
	if _, err := c.soap.call(ctx, actionUnsubscribe, etree.NewElement("wsnt:Unsubscribe")); err != nil {
		return errors.Annotate(err, "failed to unsubscribe")
	}
	return nil
}

// parseXMLTime parses an xs:dateTime, returning the zero time when absent or malformed.
func parseXMLTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
