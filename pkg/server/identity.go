package server

import (
	"regexp"

	"github.com/stacksgame/stacks-server/pkg/server/internal/db"
)

const (
	// startingChipsAuthenticated is granted on first contact to identities
	// proven by the external auth provider.
	startingChipsAuthenticated int64 = 1000
	// startingChipsAnonymous keeps locally-generated identities at zero until
	// they authenticate or are credited.
	startingChipsAnonymous int64 = 0
)

// Authenticated identity keys are the provider's numeric ids; anything else
// (the client's locally generated u_* keys included) is anonymous.
var authenticatedKeyRe = regexp.MustCompile(`^\d+$`)

func isAuthenticatedKey(id string) bool {
	return authenticatedKeyRe.MatchString(id)
}

// ensureUser returns the user row for an identity key, creating it with the
// key class's starting balance on first contact.
func (s *Server) ensureUser(id string) (*db.User, error) {
	auth := isAuthenticatedKey(id)
	chips := startingChipsAnonymous
	if auth {
		chips = startingChipsAuthenticated
	}
	return s.db.CreateUser(id, auth, chips)
}
