package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/Kiko/internal/twiliowhatsapp"
)

type stubValidator struct{ ok bool }

func (s stubValidator) Validate(params map[string]string, signature string) bool { return s.ok }

func postWebhook(svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rr, req)
	return rr
}

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestTwilioService_Canonicalize(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"whatsapp:+628111234567", "628111234567", false},
		{"+62 811-1234-567", "628111234567", false},
		{"", "", true},
		{"abc", "", true},
		{"+62 81", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("canonicalize(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendMessage(context.Background(), "whatsapp:+628111234567", "halo"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].To != "628111234567" {
		t.Errorf("unexpected sent %+v", sent)
	}
	if r := <-svc.Receipts(); r.To != "628111234567" {
		t.Errorf("unexpected receipt %+v", r)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithInsecureWebhook())

	rr := postWebhook(svc, url.Values{"From": {"whatsapp:+628111234567"}, "Body": {"halo"}, "MessageSid": {"SM123"}})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "<Response>") {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	select {
	case got := <-svc.Inbound():
		if got.MessageID != "SM123" || got.From != "whatsapp:+628111234567" || got.Body != "halo" {
			t.Errorf("unexpected inbound %+v", got)
		}
	default:
		t.Fatal("inbound message not emitted")
	}

	if rr := postWebhook(svc, url.Values{"From": {"whatsapp:+628111234567"}}); rr.Code != http.StatusBadRequest {
		t.Errorf("missing body: status %d", rr.Code)
	}
}

func TestTwilioWebhookHandler_Signature(t *testing.T) {
	form := url.Values{"From": {"whatsapp:+628111234567"}, "Body": {"halo"}}

	rejecting := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidator(stubValidator{ok: false}))
	if rr := postWebhook(rejecting, form); rr.Code != http.StatusForbidden {
		t.Errorf("bad signature: status %d", rr.Code)
	}

	accepting := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidator(stubValidator{ok: true}))
	if rr := postWebhook(accepting, form); rr.Code != http.StatusOK {
		t.Errorf("good signature: status %d", rr.Code)
	}
}

func TestTwilioWebhookHandler_Unsigned(t *testing.T) {
	form := url.Values{"From": {"whatsapp:+628999000111"}, "Body": {"halo"}, "MessageSid": {"SM999"}}

	tests := []struct {
		name string
		svc  *TwilioService
	}{
		{"no validator", NewTwilioService(twiliowhatsapp.NewMockClient())},
		{"real validator", NewTwilioService(twiliowhatsapp.NewMockClient(),
			WithSignatureValidator(twiliowhatsapp.NewWebhookValidator("auth-token", "https://kiko.example/webhook/twilio")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := postWebhook(tt.svc, form); rr.Code != http.StatusForbidden {
				t.Errorf("unsigned webhook: status %d", rr.Code)
			}
			select {
			case got := <-tt.svc.Inbound():
				t.Errorf("unsigned webhook emitted %+v", got)
			default:
			}
		})
	}
}

func TestTwilioWebhookHandler_AfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithInsecureWebhook())
	svc.Stop()
	rr := postWebhook(svc, url.Values{"From": {"whatsapp:+628111234567"}, "Body": {"halo"}})
	if rr.Code != http.StatusOK {
		t.Errorf("status %d", rr.Code)
	}
}
