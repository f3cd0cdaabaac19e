package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Flow drives the OAuth 2.1 authorization-code grant with mandatory
// PKCE and, when a resource URI is configured, RFC 8707 resource
// indicators on both the authorize and token requests.
type Flow struct {
	oauthConfig  oauth2.Config
	redirectURIs []string
	resourceURI  string // canonicalized; empty disables resource indicators
	pending      *PendingAuthStore
}

// FlowConfig mirrors internal/config.AuthConfig's OAuth-relevant
// fields.
type FlowConfig struct {
	ClientID              string
	ClientSecret          string
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURIs          []string
	Scopes                []string
	ResourceURI           string // raw; canonicalized by NewFlow
	PendingAuthTTL        time.Duration
}

// NewFlow builds a Flow from cfg. The first entry in RedirectURIs is
// used as the default redirect_uri for authorize URLs; callers needing
// a different registered redirect build the URL with AuthorizationURLFor.
func NewFlow(cfg FlowConfig) (*Flow, error) {
	var resourceURI string
	if cfg.ResourceURI != "" {
		canon, err := CanonicalResourceURI(cfg.ResourceURI)
		if err != nil {
			return nil, fmt.Errorf("auth: canonicalize resource uri: %w", err)
		}
		resourceURI = canon
	}

	var redirectURI string
	if len(cfg.RedirectURIs) > 0 {
		redirectURI = cfg.RedirectURIs[0]
	}

	return &Flow{
		oauthConfig: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationEndpoint,
				TokenURL: cfg.TokenEndpoint,
			},
			RedirectURL: redirectURI,
			Scopes:      cfg.Scopes,
		},
		redirectURIs: cfg.RedirectURIs,
		resourceURI:  resourceURI,
		pending:      NewPendingAuthStore(cfg.PendingAuthTTL),
	}, nil
}

// AuthorizationResult is returned by Authorize: the URL to redirect the
// user-agent to, and the state to correlate the eventual callback.
type AuthorizationResult struct {
	URL   string
	State string
}

// Authorize starts a new authorization-code request: generates state
// and a PKCE verifier, stores them in the pending-auth map, and builds
// the authorize URL (including resource=<canonical-uri> when
// configured).
func (f *Flow) Authorize(redirectURI string) (AuthorizationResult, error) {
	if redirectURI == "" {
		redirectURI = f.oauthConfig.RedirectURL
	}
	if err := ValidateRedirectURI(f.redirectURIs, redirectURI); err != nil {
		return AuthorizationResult{}, err
	}

	state, err := GenerateState()
	if err != nil {
		return AuthorizationResult{}, err
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return AuthorizationResult{}, err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", CodeChallengeS256(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	}
	if f.resourceURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", f.resourceURI))
	}

	f.pending.Put(PendingAuth{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		ResourceURI:  f.resourceURI,
		ClientID:     f.oauthConfig.ClientID,
	})

	return AuthorizationResult{URL: f.oauthConfig.AuthCodeURL(state, opts...), State: state}, nil
}

// Token is the result of a token exchange or refresh, carrying the
// resource-indicator metadata alongside the raw OAuth2 token.
type Token struct {
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	RefreshToken string
	Scope        string
	ResourceURI  string
	Audience     string
}

// Callback completes the authorization-code exchange for an inbound
// redirect carrying code and state. State is validated against the
// pending-auth store and consumed exactly once.
func (f *Flow) Callback(ctx context.Context, code, state string) (Token, error) {
	pending, err := f.pending.Take(state)
	if err != nil {
		return Token{}, err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", pending.CodeVerifier),
		oauth2.SetAuthURLParam("redirect_uri", pending.RedirectURI),
	}
	if pending.ResourceURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", pending.ResourceURI))
	}

	tok, err := f.oauthConfig.Exchange(ctx, code, opts...)
	if err != nil {
		return Token{}, fmt.Errorf("auth: token exchange: %w", err)
	}
	return tokenFromOAuth2(tok, pending.ResourceURI), nil
}

// Refresh exchanges a refresh token for a new access token, preserving
// the original resource binding.
func (f *Flow) Refresh(ctx context.Context, refreshToken, resourceURI string) (Token, error) {
	src := f.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("auth: token refresh: %w", err)
	}
	return tokenFromOAuth2(tok, resourceURI), nil
}

func tokenFromOAuth2(tok *oauth2.Token, resourceURI string) Token {
	t := Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		RefreshToken: tok.RefreshToken,
		ResourceURI:  resourceURI,
		Audience:     resourceURI,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}
