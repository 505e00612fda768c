package onvif

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
)

const (
	nsSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
	nsWSA    = "http://www.w3.org/2005/08/addressing"
	nsDevice = "http://www.onvif.org/ver10/device/wsdl"
	nsSchema = "http://www.onvif.org/ver10/schema"
	nsEvents = "http://www.onvif.org/ver10/events/wsdl"
	nsWSNT   = "http://docs.oasis-open.org/wsn/b-2"
	nsWSSE   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	wsaAnonymous = "http://www.w3.org/2005/08/addressing/anonymous"
)

// MessageVersion selects the SOAP profile of a proxy.
type MessageVersion int

const (
	// Soap12 is plain SOAP 1.2, used for device management calls.
	Soap12 MessageVersion = iota
	// Soap12WSAddressing10 is SOAP 1.2 with WS-Addressing 1.0 headers, used for eventing calls.
	Soap12WSAddressing10
)

func (v MessageVersion) String() string {
	switch v {
	case Soap12:
		return "Soap12"
	case Soap12WSAddressing10:
		return "Soap12WSAddressing10"
	default:
		return fmt.Sprintf("MessageVersion(%d)", int(v))
	}
}

// Envelope is an outgoing SOAP 1.2 message.
type Envelope struct {
	doc    *etree.Document
	header *etree.Element
	body   *etree.Element
}

// NewEnvelope returns an empty envelope declaring the namespaces used by the receiver.
func NewEnvelope() *Envelope {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("s:Envelope")
	root.CreateAttr("xmlns:s", nsSOAP12)
	root.CreateAttr("xmlns:a", nsWSA)
	root.CreateAttr("xmlns:tds", nsDevice)
	root.CreateAttr("xmlns:tt", nsSchema)
	root.CreateAttr("xmlns:tev", nsEvents)
	root.CreateAttr("xmlns:wsnt", nsWSNT)

	return &Envelope{
		doc:    doc,
		header: root.CreateElement("s:Header"),
		body:   root.CreateElement("s:Body"),
	}
}

func (e *Envelope) Header() *etree.Element { return e.header }

func (e *Envelope) Body() *etree.Element { return e.body }

// Bytes serializes the envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	return e.doc.WriteToBytes()
}

// addressingInterceptor writes the WS-Addressing headers of a request to address.
func addressingInterceptor(address EndpointAddress, action string) MessageInterceptor {
	return func(env *Envelope) error {
		id, err := uuid.NewV4()
		if err != nil {
			return errors.Annotate(err, "generating message id")
		}
		h := env.Header()

		a := h.CreateElement("a:Action")
		a.CreateAttr("s:mustUnderstand", "1")
		a.SetText(action)
		h.CreateElement("a:MessageID").SetText("urn:uuid:" + id.String())
		h.CreateElement("a:ReplyTo").CreateElement("a:Address").SetText(wsaAnonymous)
		to := h.CreateElement("a:To")
		to.CreateAttr("s:mustUnderstand", "1")
		to.SetText(address.String())

		for _, p := range address.ReferenceParameters {
			param := detach(p)
			param.CreateAttr("a:IsReferenceParameter", "true")
			h.AddChild(param)
		}
		return nil
	}
}

// soapClient sends SOAP requests to one endpoint with one binding configuration.
type soapClient struct {
	address      EndpointAddress
	credentials  Credentials
	version      MessageVersion
	http         *http.Client
	interceptors []MessageInterceptor
	logger       zerolog.Logger
}

func newSOAPClient(address EndpointAddress, params ConnectionParameters, version MessageVersion,
	insecureTLS bool, logger zerolog.Logger, interceptors ...MessageInterceptor) *soapClient {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DisableKeepAlives:     true,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   timeout,
		IdleConnTimeout:       timeout,
	}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &soapClient{
		address:      address,
		credentials:  params.Credentials,
		version:      version,
		http:         &http.Client{Timeout: timeout, Transport: transport},
		interceptors: interceptors,
		logger:       logger,
	}
}

// call sends payload as the body of a request for action and returns the first element
// of the response body.
func (c *soapClient) call(ctx context.Context, action string, payload *etree.Element) (*etree.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env := NewEnvelope()
	env.Body().AddChild(payload)

	interceptors := c.interceptors
	if c.version == Soap12WSAddressing10 {
		interceptors = append([]MessageInterceptor{addressingInterceptor(c.address, action)}, interceptors...)
	}
	for _, intercept := range interceptors {
		if err := intercept(env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	data, err := env.Bytes()
	if err != nil {
		return nil, errors.Annotate(err, "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address.String(), bytes.NewReader(data))
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf("application/soap+xml; charset=utf-8; action=%q", action))
	if !c.credentials.IsEmpty() {
		req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Annotatef(err, "%s", actionName(action))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s response", actionName(action))
	}

	c.logger.Debug().
		Str("action", actionName(action)).
		Str("endpoint", c.address.String()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("soap call")

	return decodeResponse(resp.StatusCode, respBody)
}

// close releases idle connections held by the proxy.
func (c *soapClient) close() error {
	c.http.CloseIdleConnections()
	return nil
}

// decodeResponse returns the first body element of a SOAP response, or the fault it carries.
func decodeResponse(status int, data []byte) (*etree.Element, error) {
	// Check HTTP status before parsing body. Some cameras return
	// error codes with an empty body instead of a SOAP fault
	if status >= 400 && len(bytes.TrimSpace(data)) == 0 {
		if status == http.StatusUnauthorized {
			return nil, errors.Unauthorizedf("HTTP %d", status)
		}
		return nil, errors.Errorf("HTTP %d with empty response", status)
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromBytes(data); err != nil {
		if status >= 400 {
			return nil, statusError(status)
		}
		return nil, errors.Annotate(err, "malformed response")
	}

	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		if status >= 400 {
			return nil, statusError(status)
		}
		return nil, errors.New("malformed response: missing SOAP envelope")
	}
	body := root.SelectElement("Body")
	if body == nil {
		return nil, errors.New("malformed response: missing SOAP body")
	}
	if fault := body.SelectElement("Fault"); fault != nil {
		return nil, faultError(parseFault(fault))
	}
	if status >= 400 {
		return nil, statusError(status)
	}

	children := body.ChildElements()
	if len(children) == 0 {
		// One-way style answers such as UnsubscribeResponse may be empty.
		return etree.NewElement("Empty"), nil
	}
	return children[0], nil
}

// statusError reports a failed HTTP status whose body carried no SOAP fault.
func statusError(status int) error {
	if status == http.StatusUnauthorized {
		return errors.Unauthorizedf("HTTP %d", status)
	}
	return errors.Errorf("HTTP %d: %s", status, http.StatusText(status))
}

// detach copies el and re-declares the namespaces it inherits from its ancestors, so the
// copy stays well formed when serialized or grafted into another document.
func detach(el *etree.Element) *etree.Element {
	cp := el.Copy()
	declared := map[string]bool{}
	for _, a := range cp.Attr {
		if a.Space == "xmlns" {
			declared[a.Key] = true
		} else if a.Space == "" && a.Key == "xmlns" {
			declared[""] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			switch {
			case a.Space == "xmlns" && !declared[a.Key]:
				declared[a.Key] = true
				cp.CreateAttr("xmlns:"+a.Key, a.Value)
			case a.Space == "" && a.Key == "xmlns" && !declared[""]:
				declared[""] = true
				cp.CreateAttr("xmlns", a.Value)
			}
		}
	}
	return cp
}

// innerXML serializes the child elements of el.
func innerXML(el *etree.Element) string {
	var buf bytes.Buffer
	for _, child := range el.ChildElements() {
		doc := etree.NewDocument()
		doc.SetRoot(detach(child))
		doc.WriteTo(&buf)
	}
	return buf.String()
}

// actionName returns the trailing segment of a SOAP action URI.
func actionName(action string) string {
	for i := len(action) - 1; i >= 0; i-- {
		if action[i] == '/' {
			return action[i+1:]
		}
	}
	return action
}
