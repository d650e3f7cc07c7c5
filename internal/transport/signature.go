package transport

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
)

// TwilioSignature computes the expected X-Twilio-Signature value: the
// Base64-encoded HMAC-SHA1 of the full request URL with the sorted POST
// parameters appended as name-value pairs.
func TwilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := fullURL
	for _, k := range keys {
		for _, v := range form[k] {
			payload += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidTwilioSignature checks a webhook signature in constant time.
func ValidTwilioSignature(authToken, fullURL string, form url.Values, signature string) bool {
	expected := TwilioSignature(authToken, fullURL, form)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ExotelSignature computes the expected X-Exotel-Signature value: the
// hex-encoded HMAC-SHA256 of the raw request body.
func ExotelSignature(apiToken string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(apiToken))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidExotelSignature checks a webhook signature in constant time.
func ValidExotelSignature(apiToken string, body []byte, signature string) bool {
	expected := ExotelSignature(apiToken, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
