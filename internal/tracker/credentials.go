package tracker

import "time"

// Credentials is the OAuth token material kept in a user's session.
type Credentials struct {
	Token        string    `json:"token" bson:"token"`
	RefreshToken string    `json:"refresh_token" bson:"refresh_token"`
	TokenURI     string    `json:"token_uri" bson:"token_uri"`
	ClientID     string    `json:"client_id" bson:"client_id"`
	ClientSecret string    `json:"client_secret" bson:"client_secret"`
	Scopes       []string  `json:"scopes" bson:"scopes"`
	Expiry       time.Time `json:"expiry" bson:"expiry"`
}

// Complete reports whether the credentials carry everything needed to mint
// fresh access tokens without the user present.
func (c *Credentials) Complete() bool {
	if c == nil {
		return false
	}
	return c.RefreshToken != "" && c.TokenURI != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Valid reports whether the access token is present and unexpired at now.
// A zero expiry is treated as non-expiring.
func (c *Credentials) Valid(now time.Time) bool {
	if c == nil || c.Token == "" {
		return false
	}
	return c.Expiry.IsZero() || now.Before(c.Expiry)
}
