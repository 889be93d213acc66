package registration

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
)

// MinimumAge is the youngest age accepted at registration.
const MinimumAge = 18

var mobilePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

// RegisterInput is the self-service registration payload.
type RegisterInput struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       int    `json:"age"`
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Mobile = strings.TrimSpace(in.Mobile)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
}

// Validate checks presence first, then email, mobile and age, returning the first failure.
func (in RegisterInput) Validate() error {
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required),
		validation.Field(&in.Password, validation.Required),
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Mobile, validation.Required),
		validation.Field(&in.FirstName, validation.Required),
		validation.Field(&in.LastName, validation.Required),
		validation.Field(&in.Age, validation.Required),
	); err != nil {
		return apperr.Validation("Missing required fields")
	}
	if err := validation.Validate(in.Email, is.Email); err != nil {
		return apperr.Validation("Enter a valid Email")
	}
	if err := ValidateMobile(in.Mobile); err != nil {
		return err
	}
	if err := validation.Validate(in.Age, validation.Min(MinimumAge)); err != nil {
		return apperr.Validation("Underage")
	}
	return nil
}

// ValidateMobile accepts an optional leading "+", an optional "1" and 9 to 15 digits.
func ValidateMobile(mobile string) error {
	if err := validation.Validate(mobile, validation.Required, validation.Match(mobilePattern)); err != nil {
		return apperr.Validation("Enter a valid mobile number")
	}
	return nil
}
