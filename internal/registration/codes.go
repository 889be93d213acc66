package registration

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/claims-gateway/claims_gateway/internal/identity"
)

const (
	smsCodeLength   = 6
	emailCodeLength = 32

	digits       = "0123456789"
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// newCode returns a 6-digit code for SMS and a 32-character token for email.
func newCode(ch identity.Channel) (string, error) {
	if ch == identity.ChannelSMS {
		return randomString(digits, smsCodeLength)
	}
	return randomString(alphanumeric, emailCodeLength)
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

func codeMessage(ch identity.Channel, code string) (subject, body string) {
	if ch == identity.ChannelSMS {
		return "", "Your verification code is: " + code
	}
	return "Claims account verification", "Your verification token is: " + code
}
