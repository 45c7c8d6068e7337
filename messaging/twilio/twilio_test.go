package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter(t *testing.T, optFns ...func(o *Options)) *Adapter {
	t.Helper()

	opts := append([]func(o *Options){func(o *Options) {
		o.AccountSID = "AC_test"
		o.AuthToken = "secret-token"
		o.FromNumber = "+15550009999"
		o.PublicURL = "https://bot.example.com/webhook"
	}}, optFns...)

	a, err := New(opts...)
	require.NoError(t, err)
	return a
}

func signedRequest(t *testing.T, authToken, publicURL string, form url.Values) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signatureHeader, computeSignature(authToken, publicURL, form))
	return req
}

func webhookForm() url.Values {
	form := url.Values{}
	form.Set("From", "whatsapp:+15550001111")
	form.Set("MessageSid", "SM123")
	form.Set("Body", "hello")
	return form
}

func TestValidateInboundAcceptsValidSignature(t *testing.T) {
	a := testAdapter(t)

	req := signedRequest(t, "secret-token", "https://bot.example.com/webhook", webhookForm())
	assert.True(t, a.ValidateInbound(req))
}

func TestValidateInboundRejectsBadSignature(t *testing.T) {
	a := testAdapter(t)

	req := signedRequest(t, "wrong-token", "https://bot.example.com/webhook", webhookForm())
	assert.False(t, a.ValidateInbound(req))
}

func TestValidateInboundRejectsMissingHeader(t *testing.T) {
	a := testAdapter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookForm().Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.False(t, a.ValidateInbound(req))
}

func TestParseInboundStripsWhatsAppPrefix(t *testing.T) {
	a := testAdapter(t)

	form := webhookForm()
	form.Set("MediaUrl0", "https://media.example.com/img.jpg")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := a.ParseInbound(req)
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", msg.SenderID)
	assert.Equal(t, "SM123", msg.PlatformMessageID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "https://media.example.com/img.jpg", msg.MediaURL)
	assert.Equal(t, "whatsapp", msg.Platform)
}

func TestParseInboundMissingFields(t *testing.T) {
	a := testAdapter(t)

	form := url.Values{}
	form.Set("Body", "hello")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := a.ParseInbound(req)
	assert.Error(t, err)
}

func TestSendTextPostsToMessagesEndpoint(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		assert.Contains(t, r.URL.Path, "AC_test/Messages.json")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := testAdapter(t, func(o *Options) {
		o.BaseURL = srv.URL
	})

	err := a.SendText(context.Background(), "+15550001111", "your order is ready")
	require.NoError(t, err)

	assert.Equal(t, "whatsapp:+15550001111", gotForm.Get("To"))
	assert.Equal(t, "whatsapp:+15550009999", gotForm.Get("From"))
	assert.Equal(t, "your order is ready", gotForm.Get("Body"))
}

func TestSendTextServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := testAdapter(t, func(o *Options) {
		o.BaseURL = srv.URL
	})

	err := a.SendText(context.Background(), "+15550001111", "hi")
	require.Error(t, err)
}
