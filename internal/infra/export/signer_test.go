package export

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("test-secret")
	id := uuid.New()
	token, expires, err := s.Sign(id, FormatCSV, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if d := time.Until(expires); d < 59*time.Minute || d > time.Hour+time.Second {
		t.Errorf("expiry %s not about one hour away", expires)
	}
	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.DatabaseID != id || claims.Format != FormatCSV {
		t.Errorf("claims = %+v", claims)
	}
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	s := NewSigner("test-secret")
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := s.Sign(uuid.New(), FormatJSON, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if _, err := NewSigner("test-secret").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(expired) = %v, want ErrInvalidToken", err)
	}
}

func TestSignerRejectsForeignAndTamperedTokens(t *testing.T) {
	token, _, err := NewSigner("other-secret").Sign(uuid.New(), FormatJSON, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	s := NewSigner("test-secret")
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(foreign) = %v, want ErrInvalidToken", err)
	}
	first, _, _ := s.Sign(uuid.New(), FormatJSON, time.Hour)
	second, _, _ := s.Sign(uuid.New(), FormatJSON, time.Hour)
	// first's header and claims with second's signature
	tampered := first[:strings.LastIndex(first, ".")] + second[strings.LastIndex(second, "."):]
	if _, err := s.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(tampered) = %v, want ErrInvalidToken", err)
	}
	if _, err := s.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(garbage) = %v, want ErrInvalidToken", err)
	}
}
