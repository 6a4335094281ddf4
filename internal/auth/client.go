// Package auth bridges the identity provider to the session layer: signing
// in swaps the app onto the user's cloud history, signing out returns it to
// the anonymous local history.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"lumichat/internal/domain"
	"lumichat/internal/httpx"
)

// Category classifies a sign-in failure. Config categories point at the
// deployment, not the user, and deserve actionable guidance.
type Category string

const (
	CategoryCancelled           Category = "cancelled"
	CategoryPopupBlocked        Category = "popup_blocked"
	CategoryProviderDisabled    Category = "provider_disabled"
	CategoryDomainNotAuthorized Category = "domain_not_authorized"
	CategoryInvalidKey          Category = "invalid_key"
	CategoryUnknown             Category = "unknown"
)

// Error is a categorized sign-in failure.
type Error struct {
	Category Category
	Message  string
}

func (e *Error) Error() string { return e.Message }

// ConfigProblem reports whether the failure is a deployment configuration
// issue rather than a user action.
func (e *Error) ConfigProblem() bool {
	switch e.Category {
	case CategoryProviderDisabled, CategoryDomainNotAuthorized, CategoryInvalidKey:
		return true
	}
	return false
}

// Guidance renders a user-facing message for a sign-in failure. Config
// problems name the fix; user actions get a neutral retry hint.
func Guidance(err error) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return "Gagal terhubung ke Google."
	}
	switch ae.Category {
	case CategoryCancelled:
		return "Login dibatalkan."
	case CategoryPopupBlocked:
		return "Popup login diblokir browser."
	case CategoryProviderDisabled:
		return "Metode login Google belum diaktifkan."
	case CategoryDomainNotAuthorized:
		return "Domain website ini belum diizinkan."
	case CategoryInvalidKey:
		return "API Key tidak valid."
	}
	if ae.Message != "" {
		return ae.Message
	}
	return "Gagal terhubung ke Google."
}

// Client verifies identity tokens against an HTTP identity provider.
type Client struct {
	apiBase string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	APIBase string
	APIKey  string
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		client:  httpx.SharedClient(30 * time.Second),
		logger:  cfg.Logger,
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	UID      string `json:"uid"`
	Name     string `json:"displayName"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// wire error codes as the provider emits them
var errorCategories = map[string]Category{
	"auth/popup-closed-by-user":    CategoryCancelled,
	"auth/cancelled":               CategoryCancelled,
	"auth/popup-blocked":           CategoryPopupBlocked,
	"auth/operation-not-allowed":   CategoryProviderDisabled,
	"auth/configuration-not-found": CategoryProviderDisabled,
	"auth/unauthorized-domain":     CategoryDomainNotAuthorized,
	"auth/invalid-api-key":         CategoryInvalidKey,
}

// Verify exchanges a provider token for the user's profile.
func (c *Client) Verify(ctx context.Context, token string) (domain.UserProfile, error) {
	jsonBody, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/auth/verify", bytes.NewReader(jsonBody))
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.UserProfile{}, &Error{Category: CategoryUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	var out verifyResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.UserProfile{}, &Error{Category: CategoryUnknown, Message: fmt.Sprintf("identity provider returned %d", resp.StatusCode)}
	}
	if out.Error != nil {
		cat, ok := errorCategories[out.Error.Code]
		if !ok {
			cat = CategoryUnknown
		}
		return domain.UserProfile{}, &Error{Category: cat, Message: out.Error.Message}
	}
	if resp.StatusCode != http.StatusOK || out.UID == "" {
		return domain.UserProfile{}, &Error{Category: CategoryUnknown, Message: fmt.Sprintf("identity provider returned %d", resp.StatusCode)}
	}

	name := out.Name
	if name == "" {
		name = "User"
	}
	return domain.UserProfile{
		Name:       name,
		Bio:        out.Email,
		IsLoggedIn: true,
		PhotoURL:   out.PhotoURL,
		UID:        out.UID,
	}, nil
}

// Revoke invalidates the user's server-side session. Failures are not fatal
// to the local sign-out.
func (c *Client) Revoke(ctx context.Context, uid string) error {
	jsonBody, _ := json.Marshal(map[string]string{"uid": uid})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/auth/revoke", bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned %d", resp.StatusCode)
	}
	return nil
}
