package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"reward_verification_service/internal/app"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// AdminClaims are the claims of an admin bearer token. The subject is the admin id.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey int

const adminIDKey ctxKey = iota

// SignAdminToken issues an HS256 admin token. A zero ttl means no expiry.
func SignAdminToken(secret, adminID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  adminID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return token, nil
}

func parseAdminToken(secret []byte, raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

// requireAdmin verifies the bearer token and the admin role. Every rejection is
// recorded as an intrusion event.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	secret := []byte(s.jwtSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			s.reject(w, r, app.CodeUnauthorized, "missing bearer token")
			return
		}
		claims, err := parseAdminToken(secret, raw)
		if err != nil {
			s.reject(w, r, app.CodeUnauthorized, "invalid token: "+err.Error())
			return
		}
		if claims.Role != RoleAdmin && claims.Role != RoleSuperAdmin {
			s.reject(w, r, app.CodeForbidden, "role "+claims.Role+" is not an admin role")
			return
		}
		ctx := context.WithValue(r.Context(), adminIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, code app.Code, reason string) {
	if err := s.security.RecordIntrusion(r.Context(), clientIP(r), r.URL.Path, reason); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"path":   r.URL.Path,
			"reason": reason,
		}).Error("Failed to record intrusion event")
	}
	writeJSON(w, app.HTTPStatus(code), errorBody{Error: code, Message: app.DefaultMessage(code)})
}

func adminID(ctx context.Context) string {
	id, _ := ctx.Value(adminIDKey).(string)
	return id
}

// clientIP strips the port from RemoteAddr, which RealIP has already rewritten.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
