package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong handle or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrInvalidToken signals a token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// DefaultTokenTTL bounds how long an issued token stays valid.
const DefaultTokenTTL = 24 * time.Hour

const tokenIssuer = "htlcflow"

// Service handles party authentication and bearer tokens.
type Service struct {
	repo      Repository
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and party returned after a successful login.
type LoginResult struct {
	Token string
	Party Party
}

// NewService creates a new authentication service. A non-positive ttl selects DefaultTokenTTL.
func NewService(repo Repository, jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a new party.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Party, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	handle := strings.TrimSpace(req.Handle)
	if handle == "" {
		return nil, fmt.Errorf("auth: handle is required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	party, err := s.repo.CreateParty(ctx, CreatePartyParams{
		Handle:       handle,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return nil, err
	}

	return &party, nil
}

// Login authenticates a party and returns a bearer token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	party, err := s.repo.GetPartyByHandle(ctx, strings.TrimSpace(req.Handle))
	if err != nil {
		if errors.Is(err, ErrPartyNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(party.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(party.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{Token: token, Party: party}, nil
}

// GetPartyByID retrieves party information by ID.
func (s *Service) GetPartyByID(ctx context.Context, partyID string) (*Party, error) {
	party, err := s.repo.GetPartyByID(ctx, partyID)
	if err != nil {
		return nil, err
	}
	return &party, nil
}

// IssueToken signs an HS256 token whose subject is partyID.
func (s *Service) IssueToken(partyID string) (string, error) {
	if partyID == "" {
		return "", fmt.Errorf("auth: empty party id")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   partyID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken validates a token and returns the party ID it was issued to.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
