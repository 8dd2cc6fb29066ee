package model

import "time"

// Roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// UserProfile is keyed by the authenticated user id. Phone and email are indexed sparsely
// so they are omitted rather than stored empty. PhoneVerified is set only when Phone was proven
// with a one-time code.
type UserProfile struct {
	CreatedAt     time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updatedAt"`
	ID            string    `dynamodbav:"id" json:"id"`
	Name          string    `dynamodbav:"name" json:"name"`
	Phone         string    `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Email         string    `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Address       string    `dynamodbav:"address,omitempty" json:"address,omitempty"`
	PasswordHash  string    `dynamodbav:"password_hash,omitempty" json:"-"`
	Role          string    `dynamodbav:"role" json:"role"`
	PhoneVerified bool      `dynamodbav:"phone_verified" json:"phoneVerified"`
}

// IsAdmin reports whether the profile may use the back-office
func (p *UserProfile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// GateState is the phone verification state of a checkout session
type GateState string

// GateState values
const (
	GateUnverified    GateState = "unverified"
	GateCodeRequested GateState = "code-requested"
	GateVerified      GateState = "verified"
)

// GateSnapshot persists a checkout session's phone gate between requests
type GateSnapshot struct {
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updatedAt"`
	ID          string    `dynamodbav:"id" json:"id"`
	State       GateState `dynamodbav:"state" json:"state"`
	Phone       string    `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	ChallengeID string    `dynamodbav:"challenge_id,omitempty" json:"-"`
	UserID      string    `dynamodbav:"user_id,omitempty" json:"userId,omitempty"`
	Role        string    `dynamodbav:"role,omitempty" json:"-"`
	TTL         int64     `dynamodbav:"ttl,omitempty" json:"-"`
}

// Challenge is a pending one-time code. The code itself is only kept as a bcrypt hash.
type Challenge struct {
	ExpiresAt time.Time `dynamodbav:"expires_at" json:"expiresAt"`
	ID        string    `dynamodbav:"id" json:"id"`
	Phone     string    `dynamodbav:"phone" json:"phone"`
	CodeHash  string    `dynamodbav:"code_hash" json:"-"`
	Attempts  int       `dynamodbav:"attempts" json:"attempts"`
	TTL       int64     `dynamodbav:"ttl" json:"-"`
}
