package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"
)

func TestSignRequiresCredentials(t *testing.T) {
	t.Parallel()
	a := NewAuth("", "")
	if a.HasCredentials() {
		t.Fatalf("HasCredentials() = true, want false for empty key/secret")
	}
	if _, err := a.Sign(url.Values{"symbol": {"BTCUSDT"}}); err == nil {
		t.Fatalf("Sign() with no credentials should error")
	}
}

func TestSignAddsTimestampAndSignature(t *testing.T) {
	t.Parallel()
	a := NewAuth("key123", "secret456")
	params := url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}}

	signed, err := a.Sign(params)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if signed.Get("timestamp") == "" {
		t.Errorf("signed params missing timestamp")
	}
	if signed.Get("signature") == "" {
		t.Errorf("signed params missing signature")
	}
	if signed.Get("symbol") != "BTCUSDT" {
		t.Errorf("signed params lost original fields")
	}
	// Original params must not be mutated.
	if params.Get("timestamp") != "" || params.Get("signature") != "" {
		t.Errorf("Sign() mutated the caller's params map")
	}
}

func TestSignatureMatchesHmacOverQueryString(t *testing.T) {
	t.Parallel()
	a := NewAuth("key123", "secret456")
	params := url.Values{"symbol": {"ETHUSDT"}}

	signed, err := a.Sign(params)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	unsigned := url.Values{}
	for k, v := range signed {
		unsigned[k] = v
	}
	unsigned.Del("signature")

	mac := hmac.New(sha256.New, []byte("secret456"))
	mac.Write([]byte(unsigned.Encode()))
	want := hex.EncodeToString(mac.Sum(nil))

	if signed.Get("signature") != want {
		t.Errorf("signature = %s, want %s (HMAC-SHA256 over %q)", signed.Get("signature"), want, unsigned.Encode())
	}
}

func TestApiKeyHeader(t *testing.T) {
	t.Parallel()
	a := NewAuth("abc", "xyz")
	name, val := a.ApiKeyHeader()
	if name != "X-MBX-APIKEY" {
		t.Errorf("header name = %q, want X-MBX-APIKEY", name)
	}
	if val != "abc" {
		t.Errorf("header value = %q, want abc", val)
	}
}
