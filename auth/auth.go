// Package auth turns opaque bearer credentials into verified user ids. The
// rest of the system never constructs or parses credentials itself.
package auth

import (
	"context"

	"github.com/clamor-chat/clamor/chat"
	"github.com/clamor-chat/clamor/config"
)

// Asserter verifies an identity assertion and returns the asserted user id.
// Verification failure is always chat.CodeUnauthenticated.
type Asserter interface {
	Assert(ctx context.Context, credential, provider string) (string, error)
}

// NewAsserter builds the asserter chain from the configuration: static tokens
// (development) are consulted first, then the configured OIDC providers.
func NewAsserter(cfg *config.Config) Asserter {
	chain := make([]Asserter, 0, 2)
	if len(cfg.StaticTokens) > 0 {
		chain = append(chain, &StaticAsserter{tokens: cfg.StaticTokens})
	}
	if len(cfg.OIDCConfigs) > 0 {
		chain = append(chain, &OIDCAsserter{cfgs: cfg.OIDCConfigs})
	}
	return ChainAsserter(chain)
}

// StaticAsserter maps fixed credentials to user ids, intended for development
// and tests only.
type StaticAsserter struct {
	tokens map[string]string
}

func NewStaticAsserter(tokens map[string]string) *StaticAsserter {
	return &StaticAsserter{tokens: tokens}
}

func (a *StaticAsserter) Assert(_ context.Context, credential, _ string) (string, error) {
	if userId, ok := a.tokens[credential]; ok && userId != "" {
		return userId, nil
	}
	return "", chat.ErrUnauthenticated("unknown credential")
}

// ChainAsserter tries each asserter in order and returns the first verified
// identity.
type ChainAsserter []Asserter

func (c ChainAsserter) Assert(ctx context.Context, credential, provider string) (string, error) {
	for _, a := range c {
		userId, err := a.Assert(ctx, credential, provider)
		if err == nil && userId != "" {
			return userId, nil
		}
	}
	return "", chat.ErrUnauthenticated("invalid credential")
}
