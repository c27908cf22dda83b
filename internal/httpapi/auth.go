package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAudience is the aud claim every clippia token must carry.
const TokenAudience = "clippia"

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// Claims are the entitlement claims of a clippia bearer token. Subject is the
// user id.
type Claims struct {
	Paid bool `json:"paid"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID.
func IssueToken(secret, userID string, paid bool, ttl time.Duration, now time.Time) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		Paid: paid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authorizeBearer checks the token and that it belongs to userID. Writes also
// need a paid plan.
func authorizeBearer(authHeader, jwtSecret, userID string, requirePaid bool, now time.Time) (Claims, *authError) {
	claims, err := parseBearer(authHeader, jwtSecret, now)
	if err != nil {
		return Claims{}, err
	}
	return authorizeClaims(claims, userID, requirePaid)
}

func authorizeClaims(claims Claims, userID string, requirePaid bool) (Claims, *authError) {
	if userID != "" && claims.Subject != userID {
		return Claims{}, &authError{
			status:  403,
			code:    "forbidden",
			message: "user mismatch",
		}
	}
	if requirePaid && !claims.Paid {
		return Claims{}, &authError{
			status:  403,
			code:    "payment_required",
			message: "an active paid plan is required",
		}
	}
	return claims, nil
}

func parseBearer(authHeader, jwtSecret string, now time.Time) (Claims, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Claims{}, &authError{
			status:  401,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	return parseToken(strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")), jwtSecret, now)
}

func parseToken(raw, jwtSecret string, now time.Time) (Claims, *authError) {
	if raw == "" {
		return Claims{}, &authError{status: 401, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		message := "invalid token"
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			message = "invalid jwt format"
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			message = "jwt signature mismatch"
		case errors.Is(err, jwt.ErrTokenExpired):
			message = "token expired"
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			message = "invalid aud claim"
		case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			message = "invalid exp claim"
		}
		return Claims{}, &authError{status: 401, code: "unauthorized", message: message}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, &authError{status: 401, code: "unauthorized", message: "missing sub claim"}
	}
	return claims, nil
}
