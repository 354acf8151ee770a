package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Principal is the operator behind a bearer token.
type Principal struct {
	UserID snowflake.ID
	Roles  []string
}

func (p Principal) Actor() string {
	return "user:" + p.UserID.String()
}

type Service interface {
	// Authenticate resolves a raw bearer token to its principal.
	Authenticate(ctx context.Context, token string) (*Principal, error)
	Authorize(ctx context.Context, principal Principal, object string, action string) error
}
