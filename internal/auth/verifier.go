// Package auth provides bearer-token verification for the dispatch API.
package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleInspector  = "inspector"
)

// Verifier validates bearer tokens and extracts role claims.
// Supports modes: dev (role:inspectorId, no verify), hmac (HS256 JWT) and
// none (every caller is admin).
type Verifier struct {
	Mode           string
	HMACSecret     []byte
	RoleClaim      string
	InspectorClaim string
}

type Principal struct {
	Role        string
	InspectorID string
}

// CanPlan reports whether the principal may read whole plans and recompute.
func (p Principal) CanPlan() bool { return p.Role == RoleAdmin || p.Role == RoleDispatcher }

// CanReadInspector reports whether the principal may read the inspector's day.
func (p Principal) CanReadInspector(inspectorID string) bool {
	return p.CanPlan() || (p.Role == RoleInspector && p.InspectorID == inspectorID)
}

func NewVerifier(mode, hmacSecret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:           mode,
		HMACSecret:     []byte(hmacSecret),
		RoleClaim:      "role",
		InspectorClaim: "sub",
	}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case "none":
		return Principal{Role: RoleAdmin}, nil
	case "dev":
		// token format: role or role:inspectorId
		role, id, _ := strings.Cut(token, ":")
		role = strings.ToLower(role)
		if !knownRole(role) {
			return Principal{}, errors.New("invalid dev token; expected role[:inspectorId]")
		}
		return normalize(Principal{Role: role, InspectorID: id})
	case "hmac":
		return v.verifyJWT(token)
	default:
		return Principal{}, errors.New("unsupported auth mode")
	}
}

func (v *Verifier) verifyJWT(token string) (Principal, error) {
	if len(v.HMACSecret) == 0 {
		return Principal{}, errors.New("hmac secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.HMACSecret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	role, _ := claims[v.RoleClaim].(string)
	id, _ := claims[v.InspectorClaim].(string)
	role = strings.ToLower(role)
	if role == "" {
		role = RoleInspector
	}
	if !knownRole(role) {
		return Principal{}, errors.New("unknown role claim")
	}
	return normalize(Principal{Role: role, InspectorID: id})
}

func normalize(p Principal) (Principal, error) {
	if p.Role == RoleInspector && p.InspectorID == "" {
		return Principal{}, errors.New("inspector token without inspector id")
	}
	return p, nil
}

func knownRole(r string) bool {
	return r == RoleAdmin || r == RoleDispatcher || r == RoleInspector
}
