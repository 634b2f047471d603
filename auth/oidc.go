package auth

import (
	"context"

	"github.com/clamor-chat/clamor/chat"
	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/globals"
	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAsserter verifies OIDC ID tokens against one of the configured
// providers. The user id is the verified "email" claim.
// TODO: make the claim configurable; whatever is chosen must be unique across
// the user base.
type OIDCAsserter struct {
	cfgs []config.OIDCConfig
}

func NewOIDCAsserter(cfgs []config.OIDCConfig) *OIDCAsserter {
	return &OIDCAsserter{cfgs: cfgs}
}

func (a *OIDCAsserter) Assert(ctx context.Context, credential, providerName string) (string, error) {
	if credential == "" {
		return "", chat.ErrUnauthenticated("missing token")
	}
	var oidcConf *config.OIDCConfig
	for i := range a.cfgs {
		if a.cfgs[i].Name == providerName {
			oidcConf = &a.cfgs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", providerName)
		return "", chat.ErrUnauthenticated("unknown provider")
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		globals.AppLogger.Error("could not discover oidc provider", "error", err)
		return "", chat.ErrUnauthenticated("provider unavailable")
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifier := provider.Verifier(&conf)
	verifiedIdToken, err := verifier.Verify(ctx, credential)
	if err != nil {
		globals.AppLogger.Debug("token verification failed", "error", err)
		return "", chat.ErrUnauthenticated("invalid token")
	}
	claims := struct {
		Email string `json:"email"`
	}{}
	err = verifiedIdToken.Claims(&claims)
	if err != nil || claims.Email == "" {
		return "", chat.ErrUnauthenticated("no usable identity claim")
	}
	return claims.Email, nil
}
