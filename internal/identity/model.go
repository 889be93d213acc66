package identity

import "time"

// Status is the review state of a materialized identity.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Role distinguishes administrators from regular users.
type Role string

const (
	RoleNormal Role = "normal"
	RoleAdmin  Role = "admin"
)

// Channel is an out-of-band contact channel a one-time code can be sent to.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ParseChannel accepts "email", "sms" and the "mobile" alias.
func ParseChannel(v string) (Channel, bool) {
	switch v {
	case "email":
		return ChannelEmail, true
	case "sms", "mobile":
		return ChannelSMS, true
	default:
		return "", false
	}
}

// Profile holds the personal fields shared by pending and confirmed records.
type Profile struct {
	Username     string
	PasswordHash []byte
	Email        string
	Mobile       string
	FirstName    string
	LastName     string
	Age          int
}

// FullName is the display name sent to the claims backend.
func (p Profile) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Identity is a confirmed, login-capable user record.
type Identity struct {
	ID string
	Profile
	Role               Role
	Status             Status
	PolicyholderSynced bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PendingIdentity is a provisional registration awaiting verification or admin action.
type PendingIdentity struct {
	ID string
	Profile
	EmailCode      string
	EmailVerified  bool
	MobileCode     string
	MobileVerified bool
	CreatedAt      time.Time
}

// Verified reports whether the given channel has been proven.
func (p PendingIdentity) Verified(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.EmailVerified
	case ChannelSMS:
		return p.MobileVerified
	default:
		return false
	}
}

// Code returns the outstanding code for the channel.
func (p PendingIdentity) Code(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return p.EmailCode
	case ChannelSMS:
		return p.MobileCode
	default:
		return ""
	}
}

// SetCode stores a fresh code for the channel.
func (p *PendingIdentity) SetCode(ch Channel, code string) {
	switch ch {
	case ChannelEmail:
		p.EmailCode = code
	case ChannelSMS:
		p.MobileCode = code
	}
}

// MarkVerified flags the channel as verified and clears its code.
func (p *PendingIdentity) MarkVerified(ch Channel) {
	switch ch {
	case ChannelEmail:
		p.EmailVerified = true
		p.EmailCode = ""
	case ChannelSMS:
		p.MobileVerified = true
		p.MobileCode = ""
	}
}

// Address returns the destination for the channel.
func (p PendingIdentity) Address(ch Channel) string {
	if ch == ChannelEmail {
		return p.Email
	}
	return p.Mobile
}
