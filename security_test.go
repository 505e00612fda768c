package onvif

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSecurityToken_EmptyCredentials(t *testing.T) {
	token, err := DeriveSecurityToken(time.Now(), Credentials{})
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestDeriveSecurityToken(t *testing.T) {
	device := time.Date(2024, 6, 15, 10, 20, 30, 0, time.FixedZone("CET", 3600))
	token, err := DeriveSecurityToken(device, Credentials{Password: "secret"})
	require.NoError(t, err)
	require.NotNil(t, token)

	assert.Len(t, token.Nonce, NonceLength)
	for _, b := range token.Nonce {
		assert.True(t, b >= '!' && b <= '~', "nonce byte %#x is not printable ASCII", b)
	}
	assert.Equal(t, time.UTC, token.ServerTime.Location())
	assert.True(t, token.ServerTime.Equal(device))

	other, err := DeriveSecurityToken(device, Credentials{Password: "secret"})
	require.NoError(t, err)
	assert.NotEqual(t, token.Nonce, other.Nonce)
}

func TestDeriveSecurityToken_ZeroDeviceTime(t *testing.T) {
	before := time.Now().UTC()
	token, err := DeriveSecurityToken(time.Time{}, Credentials{Username: "admin"})
	require.NoError(t, err)
	assert.False(t, token.ServerTime.Before(before.Truncate(time.Second)))
}

func TestPasswordDigest(t *testing.T) {
	// WS-Security UsernameToken profile example values
	nonce, err := base64.StdEncoding.DecodeString("LKqI6G/AikKCQrN0zqZFlg==")
	require.NoError(t, err)
	digest := passwordDigest(nonce, "2010-09-16T07:50:45Z", "userpassword")
	assert.Equal(t, "tuOSpGlFlIXsozq4HFNeeGeFLEI=", digest)
}

func TestSecurityHeader(t *testing.T) {
	token := &SecurityToken{ServerTime: time.Date(2024, 6, 15, 10, 20, 30, 0, time.UTC), Nonce: []byte("0123456789abcdefghij")}
	h := token.securityHeader(Credentials{Username: "admin", Password: "secret"})

	assert.Equal(t, "admin", h.FindElement("UsernameToken/Username").Text())
	assert.Equal(t, "2024-06-15T10:20:30.000Z", h.FindElement("UsernameToken/Created").Text())
	assert.Equal(t, base64.StdEncoding.EncodeToString(token.Nonce), h.FindElement("UsernameToken/Nonce").Text())
	assert.Equal(t,
		passwordDigest(token.Nonce, "2024-06-15T10:20:30.000Z", "secret"),
		h.FindElement("UsernameToken/Password").Text())
}

type staticTokens struct{ token *SecurityToken }

func (s *staticTokens) SecurityToken() *SecurityToken { return s.token }

func TestSecurityInterceptor_ReadsTokenPerMessage(t *testing.T) {
	tokens := &staticTokens{}
	intercept := SecurityInterceptor(Credentials{Username: "admin"}, tokens)

	env := NewEnvelope()
	require.NoError(t, intercept(env))
	assert.Nil(t, env.Header().SelectElement("Security"))

	tokens.token = &SecurityToken{ServerTime: time.Now().UTC(), Nonce: []byte("n")}
	env = NewEnvelope()
	require.NoError(t, intercept(env))
	assert.NotNil(t, env.Header().SelectElement("Security"))
}

func TestSecurityInterceptor_EmptyCredentials(t *testing.T) {
	tokens := &staticTokens{token: &SecurityToken{Nonce: []byte("n")}}
	env := NewEnvelope()
	require.NoError(t, SecurityInterceptor(Credentials{}, tokens)(env))
	assert.Empty(t, env.Header().ChildElements())
}

func TestHTTPClientFactory_TokenReplacement(t *testing.T) {
	f := NewHTTPClientFactory()
	assert.Nil(t, f.SecurityToken())

	first := &SecurityToken{Nonce: []byte("a")}
	second := &SecurityToken{Nonce: []byte("b")}
	f.SetSecurityToken(first)
	f.SetSecurityToken(second)
	assert.Same(t, second, f.SecurityToken())
}
