package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/auth"
	"github.com/sakif/protoface/internal/repository"
)

// AccountService turns a login name into a provisioned user.
//
// There is no password and no user table: a user exists as soon as their
// storage does, and logging in is what creates it.
type AccountService struct {
	store  repository.FrameStore
	logger *slog.Logger
}

func NewAccountService(store repository.FrameStore, logger *slog.Logger) *AccountService {
	return &AccountService{store: store, logger: logger}
}

// Login sanitizes raw and provisions storage for the resulting user.
// A name that sanitizes to nothing is rejected with BAD_USERNAME.
func (s *AccountService) Login(ctx context.Context, raw string) (string, error) {
	user := auth.Sanitize(raw)
	if user == "" {
		return "", apperror.BadUsername()
	}

	if err := s.store.Provision(ctx, user); err != nil {
		return "", fmt.Errorf("provisioning %s: %w", user, err)
	}

	s.logger.Info("user logged in", slog.String("user", user))
	return user, nil
}
