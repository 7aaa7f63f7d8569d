package auth

import "context"

// TokenVerifier resolves a bearer token to the party it was issued to.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// TokenAuthorizer grants a caller the right to act as a party when the
// caller presents a valid token issued to that party. The caller's own
// Identity is not consulted, so a relayer may act with the party's token.
type TokenAuthorizer struct {
	verifier TokenVerifier
}

func NewTokenAuthorizer(verifier TokenVerifier) *TokenAuthorizer {
	return &TokenAuthorizer{verifier: verifier}
}

func (a *TokenAuthorizer) Authorize(_ context.Context, caller Caller, claimedIdentity string) (bool, error) {
	if caller.Token == "" || claimedIdentity == "" {
		return false, nil
	}
	subject, err := a.verifier.VerifyToken(caller.Token)
	if err != nil {
		return false, nil
	}
	return subject == claimedIdentity, nil
}

// IdentityAuthorizer trusts Caller.Identity as asserted. It is meant for
// in-process callers whose identity was established elsewhere.
type IdentityAuthorizer struct{}

func (IdentityAuthorizer) Authorize(_ context.Context, caller Caller, claimedIdentity string) (bool, error) {
	return caller.Identity != "" && caller.Identity == claimedIdentity, nil
}
