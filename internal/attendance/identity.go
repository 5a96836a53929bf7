package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Identity is what the identity provider tells us about a logged-in person.
// Nil quota fields keep whatever is stored.
type Identity struct {
	Subject          string
	FirstName        string
	LastName         string
	Email            string
	AccountType      string
	Days             *int
	StripcardUsed    *int
	StripcardCount   *int
	StripcardExpires *time.Time
}

// Username derives the portal username from the IDP subject.
func (i Identity) Username() string {
	return "idp-" + strings.TrimPrefix(strings.TrimSpace(i.Subject), "idp-")
}

const defaultDays = 1

// SyncUser creates the user on first sight and refreshes profile and quota fields otherwise.
func (s *Service) SyncUser(ctx context.Context, id Identity) (User, error) {
	if strings.TrimSpace(id.Subject) == "" {
		return User{}, fmt.Errorf("%w: empty subject", ErrInvalidInput)
	}
	user, err := s.store.GetUserByUsername(ctx, id.Username())
	switch {
	case errors.Is(err, ErrNotFound):
		user = User{Username: id.Username(), Info: UserInfo{Days: defaultDays}}
	case err != nil:
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	user.FirstName = id.FirstName
	user.LastName = id.LastName
	user.Email = id.Email
	user.Active = true
	user.Info.AccountType = id.AccountType
	user.Role = RoleMember
	if IsSupervisorAccount(id.AccountType) {
		user.Role = RoleSupervisor
	}
	if id.Days != nil {
		user.Info.Days = *id.Days
	}
	if id.StripcardUsed != nil {
		user.Info.StripcardUsed = *id.StripcardUsed
	}
	if id.StripcardCount != nil {
		user.Info.StripcardCount = *id.StripcardCount
	}
	if id.StripcardExpires != nil {
		user.Info.StripcardExpires = id.StripcardExpires
	}

	saved, err := s.store.UpsertUser(ctx, user)
	if err != nil {
		return User{}, fmt.Errorf("save user: %w", err)
	}
	s.log.Info("user synced", zap.String("user", saved.Username), zap.String("role", string(saved.Role)))
	return saved, nil
}

// User loads a user by id.
func (s *Service) User(ctx context.Context, id int64) (User, error) {
	return s.store.GetUser(ctx, id)
}
