package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioNotifier sends SMS codes through the Twilio Messages API.
type TwilioNotifier struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

// NewTwilioNotifier constructs an SMS notifier. An empty baseURL targets api.twilio.com.
func NewTwilioNotifier(accountSID, authToken, from, baseURL string, client *http.Client) *TwilioNotifier {
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TwilioNotifier{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
	}
}

// Send implements Notifier. Twilio answers 201 Created when the message is queued.
func (n *TwilioNotifier) Send(ctx context.Context, message Message) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.baseURL, n.accountSID)
	form := url.Values{
		"To":   {message.Destination},
		"From": {n.from},
		"Body": {message.Body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.SetBasicAuth(n.accountSID, n.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
