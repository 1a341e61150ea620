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
	// ErrInvalidCredentials signals wrong client id or secret.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakSecret signals the secret doesn't meet requirements.
	ErrWeakSecret = errors.New("auth: secret must be at least 16 characters")
)

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and domain client returned after a successful login.
type LoginResult struct {
	Token  string
	Client Client
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new connector client account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Client, error) {
	if len(req.Secret) < 16 {
		return nil, ErrWeakSecret
	}

	if req.ClientID == "" || req.Name == "" || req.ConnectorID == "" {
		return nil, fmt.Errorf("auth: client_id, name and connector_id are required")
	}

	secretHash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash secret: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleEligibleParty
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("auth: invalid role %q", role)
	}

	client, err := s.repo.CreateClient(ctx, CreateClientParams{
		ClientID:    req.ClientID,
		Name:        req.Name,
		SecretHash:  string(secretHash),
		ConnectorID: req.ConnectorID,
		Role:        role,
	})
	if err != nil {
		return nil, err
	}

	return &client, nil
}

// Login authenticates a connector client and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	client, err := s.repo.GetClientByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(req.Secret))
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(client.ID, client.ConnectorID, client.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:  token,
		Client: client,
	}, nil
}

// GetClientByID retrieves client information by ID.
func (s *Service) GetClientByID(ctx context.Context, id string) (*Client, error) {
	client, err := s.repo.GetClientByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// VerifyToken validates a JWT token and returns the client id, its connector
// id and role.
func (s *Service) VerifyToken(tokenString string) (string, string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return "", "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		clientID, ok := claims["client_id"].(string)
		if !ok {
			return "", "", "", fmt.Errorf("auth: invalid client_id in token")
		}
		connectorID, ok := claims["connector_id"].(string)
		if !ok {
			return "", "", "", fmt.Errorf("auth: invalid connector_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", "", fmt.Errorf("auth: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
		}
		return clientID, connectorID, role, nil
	}

	return "", "", "", fmt.Errorf("auth: invalid token")
}

// generateToken creates a JWT token for the client.
func (s *Service) generateToken(clientID, connectorID string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"client_id":    clientID,
		"connector_id": connectorID,
		"role":         role,
		"exp":          time.Now().Add(24 * time.Hour).Unix(),
		"iat":          time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleEligibleParty, RoleAdministrator, RoleOperator:
		return true
	default:
		return false
	}
}
