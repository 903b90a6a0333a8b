// Package authn verifies Firebase ID tokens at the transport edge. The core
// answer-engine pipeline never imports this package — authentication stops
// at the HTTP boundary and hands the resolved owner ID down through
// request context.
package authn

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"
)

// Client abstracts the Firebase Admin SDK call the service needs.
type Client interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Service verifies bearer tokens and resolves them to a stable owner ID.
type Service struct {
	client Client
}

// NewService constructs a Service backed by client.
func NewService(client Client) *Service {
	return &Service{client: client}
}

// VerifyToken verifies idToken and returns the token's subject (Firebase UID).
func (s *Service) VerifyToken(ctx context.Context, idToken string) (string, error) {
	if idToken == "" {
		return "", fmt.Errorf("authn.VerifyToken: token is empty")
	}
	token, err := s.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("authn.VerifyToken: %w", err)
	}
	return token.UID, nil
}
