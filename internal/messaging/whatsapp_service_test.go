package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/whatsapp"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()
	if err := svc.SendMessage(ctx, "+62 811-1234-567", "halo"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if sent := mockClient.Sent(); len(sent) != 1 || sent[0].To != "628111234567" {
		t.Fatalf("recipient not canonicalized: %+v", sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "628111234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_Errors(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "12", "halo"); err == nil {
		t.Error("expected error for short number")
	}
	mockClient.Err = errors.New("not connected")
	if err := svc.SendMessage(ctx, "628111234567", "halo"); err == nil {
		t.Error("expected client error")
	}
	svc.Stop()
	if err := svc.SendMessage(ctx, "628111234567", "halo"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if receipt, ok := <-svc.Receipts(); ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	if msg, ok := <-svc.Inbound(); ok {
		t.Errorf("expected inbound channel closed, got value %v", msg)
	}
}

func messageEvent(from string, msg *waE2E.Message) *events.Message {
	evt := &events.Message{Message: msg}
	evt.Info.ID = "WAMID1"
	evt.Info.Sender = types.NewJID(from, types.DefaultUserServer)
	evt.Info.Timestamp = time.Unix(1767085200, 0)
	return evt
}

func TestWhatsAppService_HandleIncomingMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleEvent(messageEvent("628111234567", &waE2E.Message{Conversation: proto.String("halo kiko")}))
	select {
	case got := <-svc.Inbound():
		if got.MessageID != "WAMID1" || got.From != "628111234567" || got.Body != "halo kiko" || got.Time != 1767085200 {
			t.Errorf("unexpected inbound %+v", got)
		}
	default:
		t.Fatal("text message not forwarded")
	}

	ext := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("balasan")}}
	svc.handleEvent(messageEvent("628111234567", ext))
	if got := <-svc.Inbound(); got.Body != "balasan" {
		t.Errorf("extended text body = %q", got.Body)
	}

	fromMe := messageEvent("628111234567", &waE2E.Message{Conversation: proto.String("echo")})
	fromMe.Info.IsFromMe = true
	svc.handleEvent(fromMe)
	svc.handleEvent(messageEvent("628111234567", &waE2E.Message{}))
	select {
	case got := <-svc.Inbound():
		t.Errorf("unexpected forward %+v", got)
	default:
	}
}

func TestGetEventType(t *testing.T) {
	if got := getEventType(&events.Receipt{}); got != "Receipt" {
		t.Errorf("getEventType = %q", got)
	}
	if got := getEventType("other"); got != "Unknown" {
		t.Errorf("getEventType = %q", got)
	}
}
