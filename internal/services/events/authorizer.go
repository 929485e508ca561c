package events

import (
	"crypto/subtle"

	"github.com/ternarybob/labnex/internal/interfaces"
)

// TokenAuthorizer admits subscribers presenting a shared token.
// An empty token admits everyone.
type TokenAuthorizer struct {
	token string
}

var _ interfaces.SubscriberAuthorizer = (*TokenAuthorizer)(nil)

func NewTokenAuthorizer(token string) *TokenAuthorizer {
	return &TokenAuthorizer{token: token}
}

// AuthorizeSubscriber grants access to every run for the configured token
func (a *TokenAuthorizer) AuthorizeSubscriber(token, runID string) bool {
	if a.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}
