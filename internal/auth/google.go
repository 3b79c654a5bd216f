// Package auth runs the Google OAuth web flow and turns stored credentials
// back into token sources for API clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

// Scopes requested at sign-in.
var Scopes = []string{
	"https://www.googleapis.com/auth/webmasters.readonly",
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Profile is the subset of the Google userinfo response the tracker keeps.
type Profile struct {
	Email string
	Name  string
}

// Config describes the OAuth client. ClientSecretsFile, when set, takes
// precedence over ClientID/ClientSecret.
type Config struct {
	ClientID          string
	ClientSecret      string
	ClientSecretsFile string
	// Endpoint overrides the Google endpoints; zero means google.Endpoint.
	Endpoint oauth2.Endpoint
	// HTTPClient is used for token exchange when set.
	HTTPClient *http.Client
	// APIOptions are appended when building the userinfo client.
	APIOptions []option.ClientOption
}

// Google implements the sign-in flow against Google's OAuth endpoints.
type Google struct {
	oauth      oauth2.Config
	httpClient *http.Client
	apiOptions []option.ClientOption
}

// New builds a Google provider from cfg.
func New(cfg Config) (*Google, error) {
	var oc *oauth2.Config
	if cfg.ClientSecretsFile != "" {
		data, err := os.ReadFile(cfg.ClientSecretsFile)
		if err != nil {
			return nil, fmt.Errorf("read client secrets: %w", err)
		}
		oc, err = google.ConfigFromJSON(data, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse client secrets: %w", err)
		}
	} else {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, errors.New("oauth client id and secret are required")
		}
		oc = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		}
	}
	if cfg.Endpoint.TokenURL != "" {
		oc.Endpoint = cfg.Endpoint
	}
	return &Google{oauth: *oc, httpClient: cfg.HTTPClient, apiOptions: cfg.APIOptions}, nil
}

func (g *Google) config(redirectURL string) *oauth2.Config {
	c := g.oauth
	if redirectURL != "" {
		c.RedirectURL = redirectURL
	}
	return &c
}

func (g *Google) context(ctx context.Context) context.Context {
	if g.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// AuthCodeURL returns the consent page URL. Offline access with a forced
// consent prompt makes Google issue a refresh token every time.
func (g *Google) AuthCodeURL(state, redirectURL string) string {
	return g.config(redirectURL).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for credentials.
func (g *Google) Exchange(ctx context.Context, code, redirectURL string) (*tracker.Credentials, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code: %w", tracker.ErrInvalidInput)
	}
	c := g.config(redirectURL)
	tok, err := c.Exchange(g.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return FromToken(c, tok), nil
}

// UserInfo fetches the signed-in user's email and display name.
func (g *Google) UserInfo(ctx context.Context, creds *tracker.Credentials) (Profile, error) {
	if creds == nil {
		return Profile{}, tracker.ErrUnauthenticated
	}
	opts := append([]option.ClientOption{option.WithTokenSource(TokenSource(g.context(ctx), creds))}, g.apiOptions...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return Profile{}, fmt.Errorf("userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Profile{}, fmt.Errorf("userinfo: %w", err)
	}
	return Profile{Email: info.Email, Name: info.Name}, nil
}

// FromToken captures a token together with the client that can refresh it.
func FromToken(c *oauth2.Config, tok *oauth2.Token) *tracker.Credentials {
	scopes := c.Scopes
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	return &tracker.Credentials{
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenURI:     c.Endpoint.TokenURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       append([]string(nil), scopes...),
		Expiry:       tok.Expiry.UTC(),
	}
}

// TokenSource rebuilds a refreshing token source from stored credentials.
// ctx carries the HTTP client used for refreshes.
func TokenSource(ctx context.Context, creds *tracker.Credentials) oauth2.TokenSource {
	c := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: google.Endpoint.AuthURL, TokenURL: creds.TokenURI},
		Scopes:       creds.Scopes,
	}
	return c.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.Token,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	})
}
