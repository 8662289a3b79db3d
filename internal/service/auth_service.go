package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/repository"
)

const defaultTokenTTL = time.Hour

// AuthConfig holds the token settings read from the auth config section.
//
// Operators lists the usernames granted command rights. When it is empty the
// first account registered becomes the operator and later ones observe.
type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Operators  []string      `mapstructure:"operators"`
}

// Domain errors for auth flows.
var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrOperatorNotFound = errors.New("operator not found")
	ErrInvalidToken     = errors.New("invalid token")
)

// AuthService registers lab accounts and signs them in. The role in the
// token decides whether the account may command the lock loop.
type AuthService struct {
	authRepo  repository.Authorization
	key       []byte
	ttl       time.Duration
	operators map[string]struct{}
}

func NewAuthService(repo repository.Authorization, cfg AuthConfig) *AuthService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	s := &AuthService{authRepo: repo, key: []byte(cfg.SigningKey), ttl: ttl}
	for _, name := range cfg.Operators {
		if name = strings.TrimSpace(name); name != "" {
			if s.operators == nil {
				s.operators = make(map[string]struct{})
			}
			s.operators[name] = struct{}{}
		}
	}
	return s
}

// SignUp hashes password and creates a new account with the role it is
// entitled to.
func (s *AuthService) SignUp(ctx context.Context, username, password string) (models.Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.Operator{}, errors.New("username is empty")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return models.Operator{}, fmt.Errorf("invalid password: %w", err)
	}
	role, err := s.roleFor(ctx, username)
	if err != nil {
		return models.Operator{}, err
	}

	op := models.Operator{Username: username, PasswordHash: hash, Role: role}
	id, err := s.authRepo.Create(ctx, op)
	if err != nil {
		return models.Operator{}, err
	}
	op.ID = id
	return op, nil
}

func (s *AuthService) roleFor(ctx context.Context, username string) (string, error) {
	if s.operators != nil {
		if _, ok := s.operators[username]; ok {
			return models.RoleOperator, nil
		}
		return models.RoleObserver, nil
	}
	n, err := s.authRepo.CountByRole(ctx, models.RoleOperator)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return models.RoleOperator, nil
	}
	return models.RoleObserver, nil
}

// Claims defines JWT claims
type Claims struct {
	jwt.RegisteredClaims
	OperatorID int    `json:"operator_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
}

// GenerateToken validates credentials and returns JWT
func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (string, error) {
	u, err := s.authRepo.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrOperatorNotFound
	}

	if err := verifyPassword(u.PasswordHash, password); err != nil {
		return "", ErrInvalidPassword
	}

	return s.issueToken(models.Identity{OperatorID: u.ID, Username: u.Username, Role: u.Role})
}

// ParseToken parses JWT and returns the identity it was issued for
func (s *AuthService) ParseToken(accessToken string) (models.Identity, error) {
	token, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Ensure HMAC signing is used
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return models.Identity{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !models.ValidRole(claims.Role) {
		return models.Identity{}, ErrInvalidToken
	}

	return models.Identity{OperatorID: claims.OperatorID, Username: claims.Username, Role: claims.Role}, nil
}

// helper: hash password safely
func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// helper: verify password against hash
func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// helper: issue a signed JWT for an account
func (s *AuthService) issueToken(id models.Identity) (string, error) {
	if len(s.key) == 0 {
		return "", errors.New("signing key is not configured")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OperatorID: id.OperatorID,
		Username:   id.Username,
		Role:       id.Role,
	})
	return token.SignedString(s.key)
}
