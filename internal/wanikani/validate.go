package wanikani

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// MinimumLevelGranted is the subscription level required to use the
// dashboard: only full subscriptions grant every level.
const MinimumLevelGranted = 60

// Reason explains why a credential failed validation.
type Reason string

const (
	ReasonInvalidCredential        Reason = "invalid credential"
	ReasonInsufficientSubscription Reason = "insufficient subscription"
	ReasonConnectivity             Reason = "connectivity failure"
	ReasonServiceError             Reason = "service error"
)

// Validation is the outcome of checking a credential. When Valid is false,
// Reason classifies the failure and Message is suitable for display.
type Validation struct {
	Valid   bool
	User    *Resource[User]
	Reason  Reason
	Message string
}

// ValidateCredential checks token against the API using a client of its own.
func ValidateCredential(ctx context.Context, token string, opts ...Option) Validation {
	c, err := New(token, opts...)
	if err != nil {
		return Validation{Reason: ReasonInvalidCredential, Message: err.Error()}
	}

	return c.Validate(ctx)
}

// Validate fetches the user for the client's credential and checks that the
// account holds a full subscription.
func (c *Client) Validate(ctx context.Context) Validation {
	user, err := c.User(ctx)
	if err != nil {
		v := classify(err)
		log.Info().Err(err).Str("reason", string(v.Reason)).Msg("credential validation failed")
		return v
	}

	if user.Data.Subscription.MaxLevelGranted < MinimumLevelGranted {
		return Validation{
			Reason:  ReasonInsufficientSubscription,
			Message: "This app only supports full WaniKani subscriptions",
		}
	}

	return Validation{Valid: true, User: &user}
}

func classify(err error) Validation {
	var authErr AuthError
	if errors.As(err, &authErr) {
		return Validation{Reason: ReasonInvalidCredential, Message: "Invalid API key"}
	}

	var apiErr APIError
	if errors.As(err, &apiErr) {
		return Validation{Reason: ReasonServiceError, Message: apiErr.Message}
	}

	var throttled ThrottledError
	if errors.As(err, &throttled) {
		return Validation{Reason: ReasonServiceError, Message: throttled.Error()}
	}

	return Validation{Reason: ReasonConnectivity, Message: "Connection error. Check your internet."}
}
