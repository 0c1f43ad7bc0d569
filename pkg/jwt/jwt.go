package jwt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benmeehan/knock-agent/pkg/file"
	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("missing bearer token")

// Claims identify the canvasser a token was issued to.
type Claims struct {
	CanvasserID string `json:"canvasser_id"`
	jwt.RegisteredClaims
}

// JWTManagerInterface defines methods to issue and verify API tokens.
type JWTManagerInterface interface {
	Initialize(secretPath string) error
	IssueToken(canvasserID string, ttl time.Duration) (string, error)
	ValidateJWT(token string) (*Claims, error)
	ParseRequest(r *http.Request) (*Claims, error)
}

// JWTManager signs and verifies HS256 tokens with a shared secret.
type JWTManager struct {
	FileOps file.FileOperations
	Secret  []byte
	now     func() time.Time
}

// NewJWTManager initializes a new JWTManager instance.
func NewJWTManager(fileOps file.FileOperations) *JWTManager {
	return &JWTManager{
		FileOps: fileOps,
		now:     time.Now,
	}
}

// Initialize loads the signing secret.
func (jm *JWTManager) Initialize(secretPath string) error {
	secret, err := jm.FileOps.ReadFileRaw(secretPath)
	if err != nil {
		return fmt.Errorf("failed to read secret key: %w", err)
	}
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return errors.New("secret key is empty")
	}
	jm.Secret = secret
	return nil
}

// IssueToken signs a token for the canvasser valid for ttl.
func (jm *JWTManager) IssueToken(canvasserID string, ttl time.Duration) (string, error) {
	if len(jm.Secret) == 0 {
		return "", errors.New("jwt manager is not initialized")
	}
	now := jm.now()
	claims := Claims{
		CanvasserID: canvasserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   canvasserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jm.Secret)
}

// ValidateJWT checks the signature and expiry and returns the claims.
func (jm *JWTManager) ValidateJWT(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return jm.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(jm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ParseRequest validates the bearer token from the Authorization header,
// falling back to the token query parameter for browser WebSocket clients.
func (jm *JWTManager) ParseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return jm.ValidateJWT(strings.TrimSpace(header[len("bearer "):]))
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return jm.ValidateJWT(tok)
	}
	return nil, ErrMissingToken
}
