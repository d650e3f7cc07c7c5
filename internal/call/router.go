package call

import (
	"strings"

	"github.com/voicebridge/voicebridge/internal/transport"
)

// Router picks the telephony provider for outbound calls. A per-business
// override from the call context wins; otherwise the destination number's
// country prefix decides, with Twilio as the fallback.
type Router struct {
	defaultProvider transport.Provider
}

// NewRouter creates a router with the given fallback provider. An empty
// or unknown fallback defaults to Twilio.
func NewRouter(fallback transport.Provider) *Router {
	if fallback != transport.ProviderTwilio && fallback != transport.ProviderExotel {
		fallback = transport.ProviderTwilio
	}
	return &Router{defaultProvider: fallback}
}

// regionDefaults maps country dialing prefixes to the provider with the
// best rates and coverage in that region.
var regionDefaults = map[string]transport.Provider{
	"+91": transport.ProviderExotel,
	"+1":  transport.ProviderTwilio,
	"+44": transport.ProviderTwilio,
	"+49": transport.ProviderTwilio,
	"+33": transport.ProviderTwilio,
	"+39": transport.ProviderTwilio,
}

// Route returns the provider to use when calling number on behalf of the
// business described by cc. Unknown overrides are ignored rather than
// failing the call.
func (r *Router) Route(number string, cc CallContext) transport.Provider {
	switch transport.Provider(cc.Provider) {
	case transport.ProviderTwilio:
		return transport.ProviderTwilio
	case transport.ProviderExotel:
		return transport.ProviderExotel
	}

	for prefix, provider := range regionDefaults {
		if strings.HasPrefix(number, prefix) {
			return provider
		}
	}
	return r.defaultProvider
}
