package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Nerzal/gocloak/v13"
)

// Tokens is the token set returned on login.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// SignupRequest describes a new account.
type SignupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Principal is the authenticated caller.
type Principal struct {
	Subject  string
	Username string
}

// KeycloakConfig locates a realm and the confidential client used for logins
// and user management.
type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
}

// Keycloak talks to a Keycloak realm through gocloak.
type Keycloak struct {
	client *gocloak.GoCloak
	cfg    KeycloakConfig
	logger *slog.Logger
}

// NewKeycloak creates a Keycloak client. It does not contact the server.
func NewKeycloak(cfg KeycloakConfig, logger *slog.Logger) (*Keycloak, error) {
	if cfg.URL == "" || cfg.Realm == "" || cfg.ClientID == "" {
		return nil, errors.New("keycloak url, realm and client id are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keycloak{
		client: gocloak.NewClient(strings.TrimSuffix(cfg.URL, "/")),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Login exchanges a username and password for tokens.
func (k *Keycloak) Login(ctx context.Context, username, password string) (*Tokens, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}

	jwt, err := k.client.Login(ctx, k.cfg.ClientID, k.cfg.ClientSecret, k.cfg.Realm, username, password)
	if err != nil {
		k.logger.Info("Login rejected", "username", username, "error", err)
		return nil, ErrInvalidCredentials
	}

	return &Tokens{
		AccessToken:  jwt.AccessToken,
		RefreshToken: jwt.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    jwt.ExpiresIn,
	}, nil
}

// Signup creates an enabled user with a permanent password and returns the
// new user's id. The client's service account must hold the manage-users role.
func (k *Keycloak) Signup(ctx context.Context, req SignupRequest) (string, error) {
	if err := ValidateSignup(req); err != nil {
		return "", err
	}

	admin, err := k.client.LoginClient(ctx, k.cfg.ClientID, k.cfg.ClientSecret, k.cfg.Realm)
	if err != nil {
		return "", fmt.Errorf("%w: service account login: %v", ErrSignupFailed, err)
	}

	user := gocloak.User{
		Username: gocloak.StringP(req.Username),
		Email:    gocloak.StringP(req.Email),
		Enabled:  gocloak.BoolP(true),
	}
	if req.FirstName != "" {
		user.FirstName = gocloak.StringP(req.FirstName)
	}
	if req.LastName != "" {
		user.LastName = gocloak.StringP(req.LastName)
	}

	id, err := k.client.CreateUser(ctx, admin.AccessToken, k.cfg.Realm, user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignupFailed, apiMessage(err))
	}

	if err := k.client.SetPassword(ctx, admin.AccessToken, id, k.cfg.Realm, req.Password, false); err != nil {
		if delErr := k.client.DeleteUser(ctx, admin.AccessToken, k.cfg.Realm, id); delErr != nil {
			k.logger.Warn("Failed to roll back user", "id", id, "error", delErr)
		}
		return "", fmt.Errorf("%w: set password: %v", ErrSignupFailed, apiMessage(err))
	}

	k.logger.Info("User created", "id", id, "username", req.Username)
	return id, nil
}

// Logout ends the session that owns refreshToken.
func (k *Keycloak) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return ErrNoToken
	}
	if err := k.client.Logout(ctx, k.cfg.ClientID, k.cfg.ClientSecret, k.cfg.Realm, refreshToken); err != nil {
		return fmt.Errorf("%w: %v", ErrLogoutFailed, apiMessage(err))
	}
	return nil
}

// Verify checks an access token's signature and expiry against the realm's
// keys and returns its subject.
func (k *Keycloak) Verify(ctx context.Context, accessToken string) (*Principal, error) {
	token, claims, err := k.client.DecodeAccessToken(ctx, accessToken, k.cfg.Realm)
	if err != nil || token == nil || !token.Valid || claims == nil {
		return nil, ErrInvalidToken
	}

	sub, _ := (*claims)["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}
	username, _ := (*claims)["preferred_username"].(string)

	return &Principal{Subject: sub, Username: username}, nil
}

// Health checks that the realm answers.
func (k *Keycloak) Health(ctx context.Context) error {
	if _, err := k.client.GetCerts(ctx, k.cfg.Realm); err != nil {
		return fmt.Errorf("keycloak unreachable: %w", err)
	}
	return nil
}

func apiMessage(err error) string {
	var apiErr *gocloak.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
