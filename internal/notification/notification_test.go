package notification

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gopkg.in/gomail.v2"

	"github.com/claims-gateway/claims_gateway/internal/identity"
	"github.com/claims-gateway/claims_gateway/internal/logging"
)

func TestTwilioNotifierPostsForm(t *testing.T) {
	var gotPath, gotUser, gotPass, gotTo, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	n := NewTwilioNotifier("AC1", "token", "+15550000000", srv.URL, srv.Client())
	err := n.Send(context.Background(), Message{Channel: identity.ChannelSMS, Destination: "+14155552671", Body: "Your code is 123456"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Messages.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" || gotPass != "token" {
		t.Fatalf("unexpected basic auth %q:%q", gotUser, gotPass)
	}
	if gotTo != "+14155552671" || gotBody != "Your code is 123456" {
		t.Fatalf("unexpected form to=%q body=%q", gotTo, gotBody)
	}
}

func TestTwilioNotifierRejectsNon201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTwilioNotifier("AC1", "token", "+15550000000", srv.URL, srv.Client())
	if err := n.Send(context.Background(), Message{Destination: "+14155552671"}); err == nil {
		t.Fatal("expected error for non-201 status")
	}
}

func TestEmailNotifierBuildsMessage(t *testing.T) {
	var sent *gomail.Message
	n := &EmailNotifier{from: "noreply@claims.test", send: func(m ...*gomail.Message) error {
		sent = m[0]
		return nil
	}}
	if err := n.Send(context.Background(), Message{Channel: identity.ChannelEmail, Destination: "a@x.com", Body: "token abc123"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := sent.GetHeader("To"); len(got) != 1 || got[0] != "a@x.com" {
		t.Fatalf("unexpected To header %v", got)
	}
	var buf bytes.Buffer
	if _, err := sent.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if !strings.Contains(buf.String(), "token abc123") {
		t.Fatalf("body missing token: %s", buf.String())
	}
}

func TestEmailNotifierHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	n := &EmailNotifier{from: "noreply@claims.test", send: func(...*gomail.Message) error {
		<-block
		return nil
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.Send(ctx, Message{Destination: "a@x.com"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type recordingNotifier struct{ got []Message }

func (r *recordingNotifier) Send(_ context.Context, m Message) error {
	r.got = append(r.got, m)
	return nil
}

func TestRouterDispatchesByChannel(t *testing.T) {
	email, sms := &recordingNotifier{}, &recordingNotifier{}
	router := NewRouter(nil).Handle(identity.ChannelEmail, email).Handle(identity.ChannelSMS, sms)

	ctx := context.Background()
	_ = router.Send(ctx, Message{Channel: identity.ChannelEmail, Destination: "a@x.com"})
	_ = router.Send(ctx, Message{Channel: identity.ChannelSMS, Destination: "+14155552671"})
	if len(email.got) != 1 || len(sms.got) != 1 {
		t.Fatalf("unexpected dispatch email=%d sms=%d", len(email.got), len(sms.got))
	}
	if err := NewRouter(nil).Send(ctx, Message{Channel: identity.ChannelSMS}); err == nil {
		t.Fatal("expected error without a notifier")
	}
	if err := NewRouter(NewLoggerNotifier(logging.Discard())).Send(ctx, Message{Channel: identity.ChannelSMS}); err != nil {
		t.Fatalf("fallback should accept: %v", err)
	}
}

type fakeBot struct{ sent []tgbotapi.Chattable }

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramAlerterSendsToChat(t *testing.T) {
	bot := &fakeBot{}
	a := &TelegramAlerter{bot: bot, chatID: 42}
	if err := a.Alert(context.Background(), "new registration: alice"); err != nil {
		t.Fatalf("alert: %v", err)
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.ChatID != 42 || msg.Text != "new registration: alice" {
		t.Fatalf("unexpected message %+v", bot.sent[0])
	}
}
