package registration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
	"github.com/claims-gateway/claims_gateway/internal/identity"
)

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(apperr.Status(err)).JSON(fiber.Map{"msg": apperr.Message(err)})
		},
	})
	h := NewHandler(f.svc)
	app.Post("/auth/register", h.Register)
	app.Post("/auth/verify", h.Verify)
	app.Post("/auth/resend", h.Resend)
	app.Get("/user/tempusers", h.ListPending)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestVerifyHandlerPromotesOnceAllChannelsVerified(t *testing.T) {
	f := newFixture(PolicyCodeVerification)
	app := newTestApp(f)

	status, body := postJSON(t, app, "/auth/register", aliceInput())
	if status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, body)
	}
	id := body["user_id"].(string)

	status, body = postJSON(t, app, "/auth/verify", map[string]string{
		"user_id": id, "channel": "email", "code": f.code(t, id, identity.ChannelEmail),
	})
	if status != http.StatusOK || body["promoted"] != false || body["email_verified"] != true {
		t.Fatalf("email verify: %d %v", status, body)
	}

	status, body = postJSON(t, app, "/auth/verify", map[string]string{
		"user_id": id, "channel": "mobile", "code": f.code(t, id, identity.ChannelSMS),
	})
	if status != http.StatusOK || body["promoted"] != true {
		t.Fatalf("sms verify: %d %v", status, body)
	}

	ident, err := f.repo.FindByUsername(context.Background(), "alice")
	if err != nil || ident.Status != identity.StatusAccepted || !ident.PolicyholderSynced {
		t.Fatalf("expected accepted synced identity, got %+v err=%v", ident, err)
	}

	status, body = postJSON(t, app, "/auth/verify", map[string]string{"user_id": id, "channel": "email", "code": "x"})
	if status != http.StatusNotFound || body["msg"] != "Temporary user not found" {
		t.Fatalf("verify after promote: %d %v", status, body)
	}
}

func TestVerifyHandlerRejectsWrongCode(t *testing.T) {
	f := newFixture(PolicyCodeVerification)
	app := newTestApp(f)

	_, body := postJSON(t, app, "/auth/register", aliceInput())
	id := body["user_id"].(string)

	status, body := postJSON(t, app, "/auth/verify", map[string]string{"user_id": id, "channel": "sms", "code": "000000x"})
	if status != http.StatusBadRequest || body["msg"] != "Invalid verification code" {
		t.Fatalf("wrong code: %d %v", status, body)
	}
	status, _ = postJSON(t, app, "/auth/verify", map[string]string{"user_id": id, "channel": "fax", "code": "1"})
	if status != http.StatusBadRequest {
		t.Fatalf("unknown channel: expected 400, got %d", status)
	}
}

func TestResendHandlerSendsFreshSMSCode(t *testing.T) {
	f := newFixture(PolicyCodeVerification)
	app := newTestApp(f)

	_, body := postJSON(t, app, "/auth/register", aliceInput())
	id := body["user_id"].(string)
	before := f.notifier.last(identity.ChannelSMS).Body

	status, body := postJSON(t, app, "/auth/resend", map[string]string{"user_id": id, "channel": "sms"})
	if status != http.StatusOK || body["msg"] != "Verification SMS sent. Check your phone for the verification code." {
		t.Fatalf("resend: %d %v", status, body)
	}
	if got := f.notifier.last(identity.ChannelSMS).Body; got == "" || !strings.Contains(got, f.code(t, id, identity.ChannelSMS)) {
		t.Fatalf("resent message %q does not carry the stored code (previous %q)", got, before)
	}
}

func TestListPendingHidesSecrets(t *testing.T) {
	f := newFixture(PolicyCodeVerification)
	app := newTestApp(f)
	postJSON(t, app, "/auth/register", aliceInput())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/user/tempusers", nil), -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"username":"alice"`) {
		t.Fatalf("tempusers: %d %s", resp.StatusCode, raw)
	}
	for _, secret := range []string{"password", "code"} {
		if strings.Contains(string(raw), secret) {
			t.Fatalf("listing leaks %q: %s", secret, raw)
		}
	}
}
