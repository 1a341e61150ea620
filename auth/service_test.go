package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		ClientID:    "ep-acme",
		Secret:      "a-very-long-client-secret",
		Name:        "ACME Energy Services",
		ConnectorID: "es-datadis",
	}

	ctx := context.Background()
	client, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if client.ClientID != req.ClientID {
		t.Fatalf("expected client id %q got %q", req.ClientID, client.ClientID)
	}
	if client.Role != RoleEligibleParty {
		t.Fatalf("register: expected default role %s got %s", RoleEligibleParty, client.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{ClientID: req.ClientID, Secret: req.Secret})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Client.ID != client.ID {
		t.Fatalf("login: expected client id %q got %q", client.ID, resp.Client.ID)
	}

	tokenClientID, tokenConnectorID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenClientID != client.ID {
		t.Fatalf("verify token: expected %q got %q", client.ID, tokenClientID)
	}
	if tokenConnectorID != req.ConnectorID {
		t.Fatalf("verify token: expected connector %q got %q", req.ConnectorID, tokenConnectorID)
	}
	if tokenRole != RoleEligibleParty {
		t.Fatalf("verify token: expected role %s got %s", RoleEligibleParty, tokenRole)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		ClientID:    "ep-acme",
		Secret:      "short",
		Name:        "ACME Energy Services",
		ConnectorID: "es-datadis",
	})
	if !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		ClientID: "",
		Secret:   "a-very-long-client-secret",
		Name:     "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}
}

func TestService_DuplicateClientID(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		ClientID:    "ep-acme",
		Secret:      "a-very-long-client-secret",
		Name:        "ACME Energy Services",
		ConnectorID: "es-datadis",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateClientID) {
		t.Fatalf("expected ErrDuplicateClientID, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		ClientID: "ep-unknown",
		Secret:   "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

type fakeRepository struct {
	byClientID map[string]Client
	byID       map[string]Client
	nextID     int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byClientID: make(map[string]Client),
		byID:       make(map[string]Client),
		nextID:     1,
	}
}

func (f *fakeRepository) CreateClient(ctx context.Context, params CreateClientParams) (Client, error) {
	if _, exists := f.byClientID[params.ClientID]; exists {
		return Client{}, ErrDuplicateClientID
	}

	id := fmt.Sprintf("client-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleEligibleParty
	}

	client := Client{
		ID:          id,
		ClientID:    params.ClientID,
		Name:        params.Name,
		SecretHash:  params.SecretHash,
		ConnectorID: params.ConnectorID,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	f.byClientID[client.ClientID] = client
	f.byID[client.ID] = client

	return client, nil
}

func (f *fakeRepository) GetClientByClientID(ctx context.Context, clientID string) (Client, error) {
	client, ok := f.byClientID[clientID]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	return client, nil
}

func (f *fakeRepository) GetClientByID(ctx context.Context, id string) (Client, error) {
	client, ok := f.byID[id]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	return client, nil
}
