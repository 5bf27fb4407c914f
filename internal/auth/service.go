package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"go.uber.org/zap"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Permission string

const (
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type account struct {
	passwordHash string
	role         string
}

// AuthService authenticates the configured console accounts. Accounts
// without a password hash cannot log in.
type AuthService struct {
	accounts       map[string]account
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	logger         *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	a := &AuthService{
		accounts:       make(map[string]account),
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		logger:         logger,
	}
	a.addAccount(cfg.AdminUsername, cfg.AdminPasswordHash, RoleAdmin)
	a.addAccount(cfg.OperatorUsername, cfg.OperatorPassHash, RoleOperator)

	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is the development default or shorter than 32 characters",
			zap.String("env", cfg.JWTSecretEnv))
	}
	return a
}

func (a *AuthService) addAccount(username, hash, role string) {
	username = strings.TrimSpace(username)
	if username == "" || hash == "" {
		return
	}
	a.accounts[username] = account{passwordHash: hash, role: role}
}

// Accounts returns the usernames that can log in.
func (a *AuthService) Accounts() []string {
	names := make([]string, 0, len(a.accounts))
	for name := range a.accounts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type Token struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
}

// Login checks the password and issues an access token.
func (a *AuthService) Login(username, password, ipAddress string) (Token, error) {
	acct, ok := a.accounts[username]
	if !ok {
		// Hash anyway so unknown users take as long as bad passwords.
		_, _ = a.passwordHasher.HashPassword(password)
		a.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "unknown user"))
		return Token{}, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, acct.passwordHash)
	if err != nil || !valid {
		fields := []zap.Field{zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "invalid password")}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		a.logger.Warn("Login failed", fields...)
		return Token{}, ErrInvalidCredentials
	}

	signed, expiresAt, err := a.jwtHandler.GenerateAccessToken(username, acct.role)
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("Login succeeded", zap.String("username", username), zap.String("role", acct.role), zap.String("ip", ipAddress))
	return Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		Username:    username,
		Role:        acct.role,
	}, nil
}

// ValidateToken returns the claims of a valid access token.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, error) {
	return a.jwtHandler.ValidateAccessToken(token)
}

// HashPassword produces a hash suitable for auth.admin_password_hash.
func (a *AuthService) HashPassword(password string) (string, error) {
	return a.passwordHasher.HashPassword(password)
}

func roleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermOperator, PermAdmin}
	default:
		return []Permission{PermOperator}
	}
}
