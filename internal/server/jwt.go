package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/foyerhq/foyer/internal/store"
)

const jwtSecretKey = "jwt_secret"

type sessionClaims struct {
	jwt.RegisteredClaims
}

// generateOrLoadSecret returns the JWT signing secret, persisting a freshly
// generated one in app_config the first time the daemon runs.
func generateOrLoadSecret(st *store.Store) ([]byte, error) {
	val, err := st.GetConfig(jwtSecretKey)
	if err != nil {
		return nil, err
	}
	if val != "" {
		return base64.StdEncoding.DecodeString(val)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	if err := st.SetConfig(jwtSecretKey, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

// issueSessionJWT creates a signed session token for a logged-in dashboard.
func issueSessionJWT(secret []byte, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dashboard",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

func validateSessionJWT(secret []byte, tokenString string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	return claims, nil
}

// checkAuth validates the Bearer token on a request. A query token is
// accepted too so EventSource clients can authenticate.
func (s *Server) checkAuth(r *http.Request) error {
	tok := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimPrefix(h, "Bearer ")
	}
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		return fmt.Errorf("missing token")
	}
	_, err := validateSessionJWT(s.jwtSecret, tok)
	return err
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if s.password == "" || req.Password != s.password {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	token, exp, err := issueSessionJWT(s.jwtSecret, 30*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}
