package onvif

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const (
	actionGetSystemDateAndTime = "http://www.onvif.org/ver10/device/wsdl/GetSystemDateAndTime"
	actionGetCapabilities      = "http://www.onvif.org/ver10/device/wsdl/GetCapabilities"
	actionGetDeviceInformation = "http://www.onvif.org/ver10/device/wsdl/GetDeviceInformation"
)

// DeviceClient is the device management proxy.
type DeviceClient interface {
	GetSystemDateAndTime(ctx context.Context) (*SystemDateTime, error)
	GetCapabilities(ctx context.Context, categories ...CapabilityCategory) (*Capabilities, error)
	GetDeviceInformation(ctx context.Context) (*DeviceInformation, error)
	Close() error
}

type deviceClient struct {
	soap *soapClient
}

func (c *deviceClient) Close() error { return c.soap.close() }

// GetSystemDateAndTime fetches the device clock. A response without UTCDateTime yields a nil UTC.
func (c *deviceClient) GetSystemDateAndTime(ctx context.Context) (*SystemDateTime, error) {
	resp, err := c.soap.call(ctx, actionGetSystemDateAndTime, etree.NewElement("tds:GetSystemDateAndTime"))
	if err != nil {
		return nil, errors.Annotate(err, "failed to get system date and time")
	}

	result := &SystemDateTime{}
	sdt := resp.SelectElement("SystemDateAndTime")
	if sdt == nil {
		return result, nil
	}
	if tz := sdt.SelectElement("TimeZone"); tz != nil {
		result.TimeZone = textOf(tz.SelectElement("TZ"))
	}
	if utc := sdt.SelectElement("UTCDateTime"); utc != nil {
		if t, ok := parseDateTime(utc); ok {
			result.UTC = &t
		}
	}
	return result, nil
}

// parseDateTime reads a tt:DateTime element (Date/Year.. Time/Hour..).
func parseDateTime(el *etree.Element) (time.Time, bool) {
	field := func(path string) (int, bool) {
		n, err := strconv.Atoi(textOf(el.FindElement(path)))
		return n, err == nil
	}
	year, ok1 := field("Date/Year")
	month, ok2 := field("Date/Month")
	day, ok3 := field("Date/Day")
	hour, ok4 := field("Time/Hour")
	minute, ok5 := field("Time/Minute")
	second, ok6 := field("Time/Second")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) || year <= 0 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), true
}

// GetCapabilities fetches device capabilities. No categories means All.
func (c *deviceClient) GetCapabilities(ctx context.Context, categories ...CapabilityCategory) (*Capabilities, error) {
	if len(categories) == 0 {
		categories = []CapabilityCategory{CapabilityCategoryAll}
	}
	req := etree.NewElement("tds:GetCapabilities")
	for _, category := range categories {
		req.CreateElement("tds:Category").SetText(string(category))
	}

	resp, err := c.soap.call(ctx, actionGetCapabilities, req)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get capabilities")
	}

	caps := &Capabilities{}
	events := resp.FindElement("Capabilities/Events")
	if events == nil {
		return caps, nil
	}
	caps.EventsXAddr = textOf(events.SelectElement("XAddr"))
	caps.WSPullPointSupport = parseBool(textOf(events.SelectElement("WSPullPointSupport")))
	return caps, nil
}

// GetDeviceInformation fetches manufacturer, model, firmware and serial number.
func (c *deviceClient) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	resp, err := c.soap.call(ctx, actionGetDeviceInformation, etree.NewElement("tds:GetDeviceInformation"))
	if err != nil {
		return nil, errors.Annotate(err, "failed to get device information")
	}
	return &DeviceInformation{
		Manufacturer:    textOf(resp.SelectElement("Manufacturer")),
		Model:           textOf(resp.SelectElement("Model")),
		FirmwareVersion: textOf(resp.SelectElement("FirmwareVersion")),
		SerialNumber:    textOf(resp.SelectElement("SerialNumber")),
		HardwareId:      textOf(resp.SelectElement("HardwareId")),
	}, nil
}

func parseBool(s string) bool {
	s = strings.TrimSpace(s)
	return s == "1" || strings.EqualFold(s, "true")
}
