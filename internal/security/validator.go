package security

var (
	feedRule    = rule{kind: "feed endpoints", schemes: []string{"ws", "wss", "http", "https"}}
	relayRule   = rule{kind: "relay targets", schemes: []string{"ws", "wss"}}
	webhookRule = rule{kind: "webhook URLs", schemes: []string{"http", "https"}, secure: "https"}
)

// ValidateWebhookURL validates a webhook target. HTTPS is required; plain
// HTTP is accepted only for localhost when allowLocal is true.
//
// Returns nil if the URL is safe, or an error describing the issue.
func ValidateWebhookURL(urlStr string, allowLocal bool) error {
	r := webhookRule
	r.allowLocal = allowLocal
	_, err := r.check(urlStr)
	return err
}

// ValidateFeedURL validates a feed endpoint override. ws, wss, http and https
// are accepted; http is used by the server-push transport.
func ValidateFeedURL(urlStr string, allowLocal bool) error {
	r := feedRule
	r.allowLocal = allowLocal
	_, err := r.check(urlStr)
	return err
}

// ValidateRelayTarget validates a relay upstream. Only ws and wss are accepted.
func ValidateRelayTarget(urlStr string, allowLocal bool) error {
	r := relayRule
	r.allowLocal = allowLocal
	_, err := r.check(urlStr)
	return err
}

// URLValidator binds the allow-local policy so handlers can share one value.
type URLValidator struct {
	allowLocal bool
}

// NewURLValidator creates a validator. If allowLocal is true, localhost and
// private addresses are permitted (development mode).
func NewURLValidator(allowLocal bool) *URLValidator {
	return &URLValidator{allowLocal: allowLocal}
}

// AllowsLocal reports the configured policy.
func (v *URLValidator) AllowsLocal() bool {
	return v.allowLocal
}

// Webhook validates a webhook URL.
func (v *URLValidator) Webhook(url string) error {
	return ValidateWebhookURL(url, v.allowLocal)
}

// Feed validates a feed endpoint.
func (v *URLValidator) Feed(url string) error {
	return ValidateFeedURL(url, v.allowLocal)
}

// RelayTarget validates a relay upstream.
func (v *URLValidator) RelayTarget(url string) error {
	return ValidateRelayTarget(url, v.allowLocal)
}
