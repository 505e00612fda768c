// Package onvif receives events from ONVIF devices through pull point subscriptions.
package onvif

import (
	"fmt"
	"net/url"
	"time"

	"github.com/beevik/etree"
)

// Credentials holds the user name and password used against a device.
type Credentials struct {
	Username string
	Password string
}

// IsEmpty reports whether neither a user name nor a password is set.
func (c Credentials) IsEmpty() bool {
	return c.Username == "" && c.Password == ""
}

// ConnectionParameters describe how to reach one device. They are not modified once built.
type ConnectionParameters struct {
	URI         *url.URL
	Credentials Credentials
	Timeout     time.Duration
}

// SecurityToken is the material of a WS-Security UsernameToken derived for one connection attempt.
type SecurityToken struct {
	ServerTime time.Time // device UTC time, or local UTC time if the device reported none
	Nonce      []byte

	derivedAt time.Time // local monotonic reading taken when the token was derived
}

// SystemDateTime is the GetSystemDateAndTime result. UTC is nil when the device omits it.
type SystemDateTime struct {
	UTC      *time.Time
	TimeZone string
}

// CapabilityCategory filters GetCapabilities.
type CapabilityCategory string

const (
	CapabilityCategoryAll    CapabilityCategory = "All"
	CapabilityCategoryEvents CapabilityCategory = "Events"
)

// Capabilities is the part of GetCapabilities the receiver needs.
type Capabilities struct {
	EventsXAddr        string
	WSPullPointSupport bool
}

// DeviceInformation is the GetDeviceInformation result.
type DeviceInformation struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string
}

// EndpointAddress is a WS-Addressing endpoint reference: the URL requests go to and the
// reference parameters that must be echoed as headers on every request.
type EndpointAddress struct {
	URL                 *url.URL
	ReferenceParameters []*etree.Element
}

// NewEndpointAddress returns an address without reference parameters.
func NewEndpointAddress(u *url.URL) EndpointAddress {
	return EndpointAddress{URL: u}
}

func (a EndpointAddress) String() string {
	if a.URL == nil {
		return ""
	}
	return a.URL.String()
}

// SubscriptionHandle identifies a pull point subscription created during one session.
// It must not be reused once that session ends.
type SubscriptionHandle struct {
	Address         EndpointAddress
	TerminationTime time.Duration // lease requested by the client
	CurrentTime     time.Time     // device clock at creation, zero if not reported
	ExpiresAt       time.Time     // device-side expiry, zero if not reported
}

// CreatePullPointSubscriptionRequest carries the initial lease as an xs:duration.
type CreatePullPointSubscriptionRequest struct {
	InitialTerminationTime string
}

// CreatePullPointSubscriptionResponse is the decoded subscription reference.
type CreatePullPointSubscriptionResponse struct {
	Address             string
	ReferenceParameters []*etree.Element
	CurrentTime         time.Time
	TerminationTime     time.Time
}

// PullMessagesRequest asks the pull point for up to MessageLimit notifications, waiting at most Timeout.
type PullMessagesRequest struct {
	Timeout      string
	MessageLimit int
}

// NotificationMessage is one entry of a PullMessages response. Message is nil when the
// notification carries no body.
type NotificationMessage struct {
	Topic   string
	Message *string
}

// PullMessagesResponse is the decoded PullMessages result.
type PullMessagesResponse struct {
	CurrentTime          time.Time
	TerminationTime      time.Time
	NotificationMessages []NotificationMessage
}

// RenewRequest carries the new lease as an xs:duration.
type RenewRequest struct {
	TerminationTime string
}

// DeviceEvent is a notification delivered to the caller.
type DeviceEvent struct {
	Timestamp time.Time
	Topic     string
	Message   string
}

// ConnectionStateInfo is a human readable phase transition.
type ConnectionStateInfo struct {
	Timestamp   time.Time
	Description string
}

func (i ConnectionStateInfo) String() string {
	return fmt.Sprintf("[%s]: %s", i.Timestamp.Local().Format("15:04:05"), i.Description)
}

// Default configuration
const (
	DefaultTimeout           = 15 * time.Second
	DefaultTerminationTime   = 60 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	DefaultDeviceServicePath = "/onvif/device_service"

	// MaxTerminationTime is the longest lease whose half still fits the 32-bit
	// millisecond ticks of TimeGate, about 49.7 days.
	MaxTerminationTime = 4294967 * time.Second

	pullTimeout      = "PT1S"
	pullMessageLimit = 1024
)
