// Package auth implements the three ways this engine can authenticate
// a LOGIN7 exchange: plain SQL login, an embedded federated-auth token
// supplied up front, and the ADAL round trip where the server asks for
// a token via FEDAUTHINFO mid-handshake.
package auth

import (
	"context"

	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/internal/tds/parser"
	"github.com/hugr-lab/mssql-tds/pkg/mssqlerr"
)

// Strategy builds the LOGIN7 request and, for strategies that need a
// server round trip, supplies the access token once the server asks
// for one via FEDAUTHINFO.
type Strategy interface {
	// RequiresFedAuth reports whether PRELOGIN must advertise the
	// FEDAUTHREQUIRED option for this strategy.
	RequiresFedAuth() bool

	// BuildLogin7 fills in the credential and feature-extension fields
	// of base and returns it ready to encode. preResp is the server's
	// PRELOGIN reply, in case the strategy needs the server version or
	// encryption mode to decide how to authenticate.
	BuildLogin7(ctx context.Context, base *tds.Login7Request, preResp *tds.PreloginResponse) (*tds.Login7Request, error)

	// HandleFedAuthInfo is called when a FEDAUTHINFO token arrives
	// during login; it returns the FEDAUTH_TOKEN message body to send
	// back. Strategies that never expect FEDAUTHINFO return an error.
	HandleFedAuthInfo(ctx context.Context, info *parser.FedAuthInfoToken) ([]byte, error)
}

// SQLAuth is plain SQL Server authentication: a username and password
// carried (mangled) in LOGIN7, no federated-auth feature extension.
type SQLAuth struct {
	Username string
	Password string
}

func (SQLAuth) RequiresFedAuth() bool { return false }

func (a SQLAuth) BuildLogin7(_ context.Context, base *tds.Login7Request, _ *tds.PreloginResponse) (*tds.Login7Request, error) {
	base.UserName = a.Username
	base.Password = a.Password
	return base, nil
}

func (SQLAuth) HandleFedAuthInfo(_ context.Context, _ *parser.FedAuthInfoToken) ([]byte, error) {
	return nil, mssqlerr.New(mssqlerr.KindAuthentication, "sql authentication does not expect FEDAUTHINFO").Err()
}

// FedAuthEmbedded carries a federated-auth access token already in
// hand (e.g. a managed-identity token fetched before Connect is
// called), sent inline in the LOGIN7 feature extension so no
// FEDAUTHINFO round trip is needed.
type FedAuthEmbedded struct {
	AccessToken string
}

func (FedAuthEmbedded) RequiresFedAuth() bool { return true }

func (a FedAuthEmbedded) BuildLogin7(_ context.Context, base *tds.Login7Request, _ *tds.PreloginResponse) (*tds.Login7Request, error) {
	base.FeatureExt = tds.BuildFedAuthFeatureExt(tds.FedAuthLibrarySecurityToken, false, tds.EncodeUCS2(a.AccessToken), nil)
	return base, nil
}

func (FedAuthEmbedded) HandleFedAuthInfo(_ context.Context, _ *parser.FedAuthInfoToken) ([]byte, error) {
	return nil, mssqlerr.New(mssqlerr.KindAuthentication, "embedded fedauth token does not expect FEDAUTHINFO").Err()
}

// TokenProvider acquires an access token for the STS URL and resource
// the server names in FEDAUTHINFO (STSURL and SPN respectively).
type TokenProvider func(ctx context.Context, stsURL, resource string) (string, error)

// FedAuthADAL defers token acquisition until the server announces its
// STS endpoint via FEDAUTHINFO, then calls TokenProvider to get an
// OAuth access token and replies with FEDAUTH_TOKEN.
type FedAuthADAL struct {
	TokenProvider TokenProvider
}

func (FedAuthADAL) RequiresFedAuth() bool { return true }

func (a FedAuthADAL) BuildLogin7(_ context.Context, base *tds.Login7Request, _ *tds.PreloginResponse) (*tds.Login7Request, error) {
	base.FeatureExt = tds.BuildFedAuthFeatureExt(tds.FedAuthLibraryADAL, false, nil, nil)
	return base, nil
}

func (a FedAuthADAL) HandleFedAuthInfo(ctx context.Context, info *parser.FedAuthInfoToken) ([]byte, error) {
	if a.TokenProvider == nil {
		return nil, mssqlerr.New(mssqlerr.KindAuthentication, "adal authentication configured without a TokenProvider").Err()
	}
	token, err := a.TokenProvider(ctx, info.STSURL, info.SPN)
	if err != nil {
		return nil, mssqlerr.Wrap(err, mssqlerr.KindAuthentication, "acquire adal token").Err()
	}
	return tds.BuildFedAuthTokenMessage(token, nil), nil
}
