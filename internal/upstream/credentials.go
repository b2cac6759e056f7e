package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Credentials is the payload stored in an authenticated session.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	IDToken      string    `json:"id_token,omitempty"`

	// Identity claims from a verified ID token, when available.
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
}

// CredentialsFromToken converts an oauth2 token.
func CredentialsFromToken(t *oauth2.Token) *Credentials {
	c := &Credentials{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		c.IDToken = idToken
	}
	return c
}

// Token returns the credentials as an oauth2 token.
func (c *Credentials) Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    tokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// Encode serializes the credentials for Session hydration.
func (c *Credentials) Encode() ([]byte, error) {
	if c.AccessToken == "" {
		return nil, errors.New("access token is required")
	}
	return json.Marshal(c)
}

// DecodeCredentials parses a hydrated session payload.
func DecodeCredentials(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid credentials payload: %w", err)
	}
	if c.AccessToken == "" {
		return nil, errors.New("credentials payload has no access token")
	}
	return &c, nil
}
