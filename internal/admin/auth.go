package admin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const authContextKey = contextKey("auth")

// AuthContext carries the authenticated caller through the request context.
type AuthContext struct {
	Subject string
	Roles   []string
}

type TokenRequest struct {
	Subject    string   `json:"subject"`
	Roles      []string `json:"roles"`
	TTLMinutes int      `json:"ttlMinutes,omitempty"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth {
			rolesHeader := r.Header.Get("X-TG-Roles")
			roles := []string{}
			if rolesHeader != "" {
				for _, part := range strings.Split(rolesHeader, ",") {
					if trimmed := strings.TrimSpace(part); trimmed != "" {
						roles = append(roles, trimmed)
					}
				}
			}
			ctx := context.WithValue(r.Context(), authContextKey, &AuthContext{
				Subject: "anonymous",
				Roles:   roles,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "TG-401", "missing bearer token")
			return
		}
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return s.signingKey, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "TG-401", "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "TG-401", "invalid token claims")
			return
		}
		roles := []string{}
		if raw, ok := claims["roles"].([]any); ok {
			for _, r := range raw {
				if str, ok := r.(string); ok {
					roles = append(roles, str)
				}
			}
		}
		subject, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), authContextKey, &AuthContext{
			Subject: subject,
			Roles:   roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authContext(ctx context.Context) *AuthContext {
	if v := ctx.Value(authContextKey); v != nil {
		if auth, ok := v.(*AuthContext); ok {
			return auth
		}
	}
	return &AuthContext{Subject: "anonymous"}
}

func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	if !s.requireAuth {
		return true
	}
	auth := s.authContext(r.Context())
	for _, role := range auth.Roles {
		for _, allowedRole := range allowed {
			if role == allowedRole {
				return true
			}
		}
	}
	writeError(w, http.StatusForbidden, "TG-403", "forbidden")
	return false
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if len(s.signingKey) == 0 {
		writeError(w, http.StatusInternalServerError, "TG-500", "signing key not configured")
		return
	}
	var req TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "TG-400", err.Error())
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "TG-400", "subject is required")
		return
	}
	ttl := defaultTokenTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	exp := time.Now().Add(ttl)
	claims := jwt.MapClaims{
		"sub":    req.Subject,
		"roles":  req.Roles,
		"exp":    exp.Unix(),
		"issued": time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signingKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TG-500", "could not sign token")
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{
		Token:     signed,
		ExpiresAt: exp,
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	auth := s.authContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": auth.Subject,
		"roles":   auth.Roles,
	})
}
