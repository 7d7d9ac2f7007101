package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// System-wide roles carried in access tokens.
const (
	RoleEnterpriseAdmin    = "enterprise_admin"
	RoleEnterpriseLearner  = "enterprise_learner"
	RoleEnterpriseOperator = "enterprise_openedx_operator"
)

// AllAccessContext grants a role across every enterprise.
const AllAccessContext = "*"

// RoleAssignment binds a system-wide role to an enterprise context.
type RoleAssignment struct {
	Role    string
	Context string
}

// String encodes the assignment as "role:context".
func (r RoleAssignment) String() string {
	if r.Context == "" {
		return r.Role
	}
	return r.Role + ":" + r.Context
}

// AccessClaims defines JWT claims for API callers.
type AccessClaims struct {
	UserID int64    `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// RoleAssignments decodes the "role:context" entries of the token.
func (c *AccessClaims) RoleAssignments() []RoleAssignment {
	if c == nil {
		return nil
	}
	out := make([]RoleAssignment, 0, len(c.Roles))
	for _, raw := range c.Roles {
		role, ctx, _ := strings.Cut(strings.TrimSpace(raw), ":")
		if role == "" {
			continue
		}
		out = append(out, RoleAssignment{Role: role, Context: ctx})
	}
	return out
}

// HasAdminAccess reports whether the caller may administer the enterprise.
// Admins need a matching context; operators also accept the all-access context.
// Learners never qualify.
func (c *AccessClaims) HasAdminAccess(enterpriseUUID string) bool {
	enterpriseUUID = strings.ToLower(strings.TrimSpace(enterpriseUUID))
	for _, assignment := range c.RoleAssignments() {
		ctx := strings.ToLower(assignment.Context)
		switch assignment.Role {
		case RoleEnterpriseAdmin:
			if ctx == enterpriseUUID {
				return true
			}
		case RoleEnterpriseOperator:
			if ctx == enterpriseUUID || ctx == AllAccessContext {
				return true
			}
		}
	}
	return false
}

// HasLearnerAccess reports whether the caller may act as a learner of the enterprise.
func (c *AccessClaims) HasLearnerAccess(enterpriseUUID string) bool {
	if c.HasAdminAccess(enterpriseUUID) {
		return true
	}
	enterpriseUUID = strings.ToLower(strings.TrimSpace(enterpriseUUID))
	for _, assignment := range c.RoleAssignments() {
		if assignment.Role == RoleEnterpriseLearner && strings.ToLower(assignment.Context) == enterpriseUUID {
			return true
		}
	}
	return false
}

// GenerateAccessToken signs an access JWT with the configured expiry.
func GenerateAccessToken(secret string, userID int64, email string, roles []RoleAssignment, expiry time.Duration) (string, error) {
	now := time.Now().UTC()
	encoded := make([]string, 0, len(roles))
	for _, role := range roles {
		encoded = append(encoded, role.String())
	}
	claims := AccessClaims{
		UserID: userID,
		Email:  email,
		Roles:  encoded,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken validates an access JWT and returns its claims.
func ParseAccessToken(secret string, tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
