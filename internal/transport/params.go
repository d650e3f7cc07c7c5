package transport

import (
	"fmt"
	"net/http"
	"net/url"
)

// webhookParams extracts webhook parameters from the query string (GET) or
// the form-encoded body (POST). The body is passed in because signature
// validation has already consumed the request's reader.
func webhookParams(r *http.Request, body []byte) (url.Values, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), nil
	}
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form body: %w", err)
	}
	return params, nil
}

// MaskNumber masks a phone number for logging, keeping the country code
// prefix and the last two digits.
func MaskNumber(number string) string {
	if len(number) < 6 {
		return "****"
	}
	return number[:4] + "****" + number[len(number)-2:]
}
