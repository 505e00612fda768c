package onvif

import (
	"crypto/sha1"
	"encoding/base64"
	"time"

	"github.com/beevik/etree"
	"github.com/elgs/gostrgen"
	"github.com/juju/errors"
)

// NonceLength is the size of the nonce carried by a SecurityToken.
const NonceLength = 20

const (
	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64BinaryType   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
	createdLayout      = "2006-01-02T15:04:05.000Z"
)

// DeriveSecurityToken returns the token for one connection attempt, or nil when the
// credentials are empty.
//
// A zero deviceTime falls back to the local UTC clock. Clock skew between client and
// device is then not compensated and devices with strict time checks may reject the token.
//
// The nonce is NonceLength printable ASCII characters (letters, digits and punctuation)
// drawn from a general-purpose generator, not a cryptographic one.
func DeriveSecurityToken(deviceTime time.Time, credentials Credentials) (*SecurityToken, error) {
	if credentials.IsEmpty() {
		return nil, nil
	}
	nonce, err := gostrgen.RandGen(NonceLength, gostrgen.All, "", "")
	if err != nil {
		return nil, errors.Annotate(err, "generating nonce")
	}
	if deviceTime.IsZero() {
		deviceTime = time.Now()
	}
	return &SecurityToken{
		ServerTime: deviceTime.UTC(),
		Nonce:      []byte(nonce),
		derivedAt:  time.Now(),
	}, nil
}

// created is the device time advanced by the local time spent since derivation.
func (t *SecurityToken) created() time.Time {
	if t.derivedAt.IsZero() {
		return t.ServerTime
	}
	return t.ServerTime.Add(time.Since(t.derivedAt))
}

// passwordDigest is Base64(SHA1(nonce + created + password)).
func passwordDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// securityHeader builds the wsse:Security header for one outgoing message.
func (t *SecurityToken) securityHeader(credentials Credentials) *etree.Element {
	created := t.created().UTC().Format(createdLayout)

	security := etree.NewElement("wsse:Security")
	security.CreateAttr("s:mustUnderstand", "1")
	security.CreateAttr("xmlns:wsse", nsWSSE)
	security.CreateAttr("xmlns:wsu", nsWSU)

	usernameToken := security.CreateElement("wsse:UsernameToken")
	usernameToken.CreateElement("wsse:Username").SetText(credentials.Username)

	password := usernameToken.CreateElement("wsse:Password")
	password.CreateAttr("Type", passwordDigestType)
	password.SetText(passwordDigest(t.Nonce, created, credentials.Password))

	nonce := usernameToken.CreateElement("wsse:Nonce")
	nonce.CreateAttr("EncodingType", base64BinaryType)
	nonce.SetText(base64.StdEncoding.EncodeToString(t.Nonce))

	usernameToken.CreateElement("wsu:Created").SetText(created)
	return security
}

// TokenSource yields the token active at the moment a message is sent.
type TokenSource interface {
	SecurityToken() *SecurityToken
}

// MessageInterceptor mutates an outgoing envelope right before it is written to the wire.
type MessageInterceptor func(env *Envelope) error

// SecurityInterceptor attaches a WS-Security header to every message while tokens
// yields a token. The token is read per message, so replacing it takes effect on the
// next call of every proxy.
func SecurityInterceptor(credentials Credentials, tokens TokenSource) MessageInterceptor {
	return func(env *Envelope) error {
		if credentials.IsEmpty() || tokens == nil {
			return nil
		}
		token := tokens.SecurityToken()
		if token == nil {
			return nil
		}
		env.Header().AddChild(token.securityHeader(credentials))
		return nil
	}
}
