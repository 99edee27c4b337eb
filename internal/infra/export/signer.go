// internal/infra/export/signer.go
package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const downloadIssuer = "reward-verification-downloads"

var ErrInvalidToken = errors.New("invalid or expired download token")

// DownloadClaims identify the artifact a signed link grants access to.
type DownloadClaims struct {
	DatabaseID uuid.UUID `json:"database_id"`
	Format     Format    `json:"format"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 download tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign returns a token for databaseID/format valid for ttl, and its expiry.
func (s *Signer) Sign(databaseID uuid.UUID, format Format, ttl time.Duration) (string, time.Time, error) {
	issued := s.now().UTC().Truncate(time.Second)
	expires := issued.Add(ttl)
	claims := DownloadClaims{
		DatabaseID: databaseID,
		Format:     format,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    downloadIssuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download token: %w", err)
	}
	return token, expires, nil
}

// Verify checks signature, issuer and expiry.
func (s *Signer) Verify(token string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != downloadIssuer || claims.DatabaseID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	if _, err := ParseFormat(string(claims.Format)); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
