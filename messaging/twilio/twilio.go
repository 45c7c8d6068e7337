// Package twilio implements the messaging adapter for Twilio's WhatsApp
// channel: X-Twilio-Signature validation, form-encoded webhook parsing and
// outbound delivery through the Messages REST API.
package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/logging"
	"github.com/hupe1980/commercemesh/messaging"
)

const (
	signatureHeader = "X-Twilio-Signature"
	apiBase         = "https://api.twilio.com/2010-04-01"
	whatsappPrefix  = "whatsapp:"
)

// Options configures an Adapter.
type Options struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the WhatsApp sender number in E.164 form.
	FromNumber string
	// PublicURL is the externally visible webhook URL, needed to recompute
	// the signature when the service sits behind a proxy.
	PublicURL string
	Timeout   time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	// BaseURL overrides the Twilio API root, mainly for tests.
	BaseURL string
	Logger  logging.Logger
}

// Adapter is the Twilio WhatsApp implementation of messaging.Adapter.
type Adapter struct {
	opts   Options
	client *http.Client
	logger logging.Logger
}

var _ messaging.Adapter = (*Adapter)(nil)

// New constructs a Twilio WhatsApp adapter.
func New(optFns ...func(o *Options)) (*Adapter, error) {
	opts := Options{
		Timeout: 10 * time.Second,
		BaseURL: apiBase,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.AccountSID == "" || opts.AuthToken == "" || opts.FromNumber == "" {
		return nil, fmt.Errorf("twilio: account sid, auth token and from number are required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Adapter{
		opts:   opts,
		client: client,
		logger: logging.NonNil(opts.Logger),
	}, nil
}

// ValidateInbound recomputes the Twilio request signature over the webhook
// URL plus the sorted form parameters and compares it to the header.
func (a *Adapter) ValidateInbound(r *http.Request) bool {
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return false
	}

	if err := r.ParseForm(); err != nil {
		return false
	}

	reqURL := a.opts.PublicURL
	if reqURL == "" {
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		reqURL = scheme + "://" + r.Host + r.URL.RequestURI()
	}

	expected := computeSignature(a.opts.AuthToken, reqURL, r.PostForm)

	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// computeSignature implements Twilio's scheme: the URL concatenated with each
// POST parameter name and value in lexicographic name order, HMAC-SHA1 signed
// with the auth token and base64 encoded.
func computeSignature(authToken, reqURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(reqURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseInbound maps the Twilio webhook form into an InboundMessage. The
// whatsapp: prefix is stripped so sender ids are bare phone numbers.
func (a *Adapter) ParseInbound(r *http.Request) (*messaging.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, core.Validation("malformed webhook form body")
	}

	sender := strings.TrimPrefix(r.PostForm.Get("From"), whatsappPrefix)
	messageSID := r.PostForm.Get("MessageSid")
	if sender == "" || messageSID == "" {
		return nil, core.Validation("webhook payload missing From or MessageSid")
	}

	return &messaging.InboundMessage{
		Platform:          "whatsapp",
		SenderID:          sender,
		PlatformMessageID: messageSID,
		Text:              r.PostForm.Get("Body"),
		MediaURL:          r.PostForm.Get("MediaUrl0"),
		Received:          time.Now().UTC(),
	}, nil
}

// SendText delivers a text message over the WhatsApp channel.
func (a *Adapter) SendText(ctx context.Context, recipientID, text string) error {
	form := url.Values{}
	form.Set("To", whatsappPrefix+recipientID)
	form.Set("From", whatsappPrefix+a.opts.FromNumber)
	form.Set("Body", text)

	return a.sendMessage(ctx, form)
}

// SendMedia delivers a media message with an optional caption.
func (a *Adapter) SendMedia(ctx context.Context, recipientID, mediaURL, caption string) error {
	form := url.Values{}
	form.Set("To", whatsappPrefix+recipientID)
	form.Set("From", whatsappPrefix+a.opts.FromNumber)
	form.Set("MediaUrl", mediaURL)
	if caption != "" {
		form.Set("Body", caption)
	}

	return a.sendMessage(ctx, form)
}

func (a *Adapter) sendMessage(ctx context.Context, form url.Values) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", a.opts.BaseURL, a.opts.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return core.Fatal("twilio.send", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.opts.AccountSID, a.opts.AuthToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return core.Transient("twilio.send", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return core.Transient("twilio.send", fmt.Errorf("twilio returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return core.Fatal("twilio.send", fmt.Errorf("twilio rejected message with status %d", resp.StatusCode))
	}

	a.logger.Debug("twilio.send.success", "to", form.Get("To"))

	return nil
}
