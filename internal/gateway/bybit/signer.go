package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// signer produces Bybit v5 HMAC-SHA256 headers over ts+apiKey+recvWindow+payload.
type signer struct {
	apiKey     string
	secret     []byte
	recvWindow string
}

func (s signer) sign(ts, payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts + s.apiKey + s.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s signer) apply(h http.Header, ts, payload string) {
	h.Set("X-BAPI-API-KEY", s.apiKey)
	h.Set("X-BAPI-SIGN", s.sign(ts, payload))
	h.Set("X-BAPI-SIGN-TYPE", "2")
	h.Set("X-BAPI-TIMESTAMP", ts)
	h.Set("X-BAPI-RECV-WINDOW", s.recvWindow)
	h.Set("Content-Type", "application/json")
}
