package darkpool

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Checker-Finance/darkpool-adapter/pkg/utils"
)

const (
	HeaderAPIKey         = "x-renegade-api-key"
	HeaderAuth           = "x-renegade-auth"
	HeaderAuthTimestamp  = "x-renegade-auth-timestamp"
	HeaderAuthExpiration = "x-renegade-auth-expiration"
	HeaderSDKVersion     = "x-renegade-sdk-version"

	// SDKVersion is reported to the relayer on every request.
	SDKVersion = "go-v0.4.0"

	// SignatureValidity is how long a request signature is accepted.
	SignatureValidity = 10 * time.Second
)

// Credential is an API key and its decoded HMAC secret.
type Credential struct {
	apiKey string
	secret []byte
}

// NewCredential decodes a base64 API secret. Padded and unpadded encodings
// are both accepted.
func NewCredential(apiKey, apiSecret string) (Credential, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Credential{}, &AuthError{Reason: "api key is empty"}
	}
	if strings.TrimSpace(apiSecret) == "" {
		return Credential{}, &AuthError{Reason: "api secret is empty"}
	}
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		secret, err = base64.RawStdEncoding.DecodeString(apiSecret)
	}
	if err != nil {
		return Credential{}, &AuthError{Reason: "api secret is not valid base64"}
	}
	if len(secret) == 0 {
		return Credential{}, &AuthError{Reason: "api secret decodes to zero bytes"}
	}
	return Credential{apiKey: apiKey, secret: secret}, nil
}

// APIKey returns the key id.
func (c Credential) APIKey() string { return c.apiKey }

func (c Credential) String() string {
	return "Credential{key=" + utils.MaskKey(c.apiKey) + "}"
}

func (c Credential) GoString() string { return c.String() }

// SignatureHeaders are the auth headers for one request.
type SignatureHeaders struct {
	APIKey     string
	Signature  string
	Timestamp  int64
	Expiration int64
	SDKVersion string
}

// Apply sets the headers on h, replacing any previous values.
func (s SignatureHeaders) Apply(h http.Header) {
	for k, v := range s.Map() {
		h.Set(k, v)
	}
}

// Map returns the headers keyed by their wire names.
func (s SignatureHeaders) Map() map[string]string {
	return map[string]string{
		HeaderAPIKey:         s.APIKey,
		HeaderAuth:           s.Signature,
		HeaderAuthTimestamp:  strconv.FormatInt(s.Timestamp, 10),
		HeaderAuthExpiration: strconv.FormatInt(s.Expiration, 10),
		HeaderSDKVersion:     s.SDKVersion,
	}
}

// Authenticator signs relayer requests. It holds no mutable state and is
// safe for concurrent use.
type Authenticator struct {
	cred Credential
	now  func() time.Time
}

// NewAuthenticator returns an Authenticator for cred.
func NewAuthenticator(cred Credential) *Authenticator {
	return &Authenticator{cred: cred, now: time.Now}
}

// APIKey returns the key id requests are signed for.
func (a *Authenticator) APIKey() string { return a.cred.apiKey }

// Sign computes the auth headers for a request. The MAC covers
// method, path, body and the millisecond timestamp joined by newlines.
func (a *Authenticator) Sign(method, path string, body []byte, timestamp time.Time) SignatureHeaders {
	ts := timestamp.UnixMilli()
	return SignatureHeaders{
		APIKey:     a.cred.apiKey,
		Signature:  a.mac(method, path, body, ts),
		Timestamp:  ts,
		Expiration: ts + SignatureValidity.Milliseconds(),
		SDKVersion: SDKVersion,
	}
}

// SignRequest signs req at the current time. body must be the exact bytes
// sent; path includes the query string.
func (a *Authenticator) SignRequest(req *http.Request, body []byte) {
	a.Sign(req.Method, req.URL.RequestURI(), body, a.now()).Apply(req.Header)
}

// Verify reports whether signature is valid for the request and the
// signature window has not closed at now.
func (a *Authenticator) Verify(method, path string, body []byte, timestampMillis int64, signature string, now time.Time) bool {
	if now.UnixMilli() > timestampMillis+SignatureValidity.Milliseconds() {
		return false
	}
	expected := a.mac(method, path, body, timestampMillis)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (a *Authenticator) mac(method, path string, body []byte, ts int64) string {
	h := hmac.New(sha256.New, a.cred.secret)
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}
