package credential

import (
	"context"
	"errors"
	"fmt"
)

// ErrFlowDisabled is returned by Authorize and Connect when the
// coordinator was built without a state registry.
var ErrFlowDisabled = errors.New("credential: oauth flow not configured")

// Authorize starts an authorization flow and returns the platform consent
// URL. The state token embedded in it is bound to ownerID and redirectURI.
func (c *Coordinator) Authorize(ctx context.Context, platform, ownerID, redirectURI string, metadata map[string]string) (string, error) {
	if c.states == nil {
		return "", ErrFlowDisabled
	}
	conn, err := c.connectors.Get(platform)
	if err != nil {
		return "", err
	}
	state, err := c.states.GenerateState(ctx, ownerID, platform, redirectURI, metadata)
	if err != nil {
		return "", err
	}
	return conn.AuthCodeURL(state, redirectURI), nil
}

// Connect completes an authorization flow: it consumes the state,
// exchanges the code and stores an active credential for the owner bound
// to the state. The account ID comes from the connector, then from the
// "account_id" state metadata, then defaults to the owner ID.
func (c *Coordinator) Connect(ctx context.Context, platform, code, state string) (Credential, error) {
	if c.states == nil {
		return Credential{}, ErrFlowDisabled
	}
	conn, err := c.connectors.Get(platform)
	if err != nil {
		return Credential{}, err
	}

	grant, err := c.states.ValidateState(ctx, state, platform, "")
	if err != nil {
		return Credential{}, err
	}

	res, err := conn.ExchangeCode(ctx, code, grant.RedirectURI)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: exchange code for %s: %w", platform, err)
	}

	accountID := res.AccountID
	if accountID == "" {
		accountID = grant.Metadata["account_id"]
	}
	if accountID == "" {
		accountID = grant.UserID
	}

	now := c.clock.Now()
	cred := Credential{
		Platform:        platform,
		AccountID:       accountID,
		OwnerID:         grant.UserID,
		AccessToken:     res.AccessToken,
		RefreshToken:    res.RefreshToken,
		ExpiresAt:       expiryFrom(now, res.ExpiresIn),
		LastRefreshedAt: &now,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	c.remember(cred.AccessToken, cred.RefreshToken)

	if err := c.store.Upsert(ctx, cred); err != nil {
		return Credential{}, fmt.Errorf("credential: store %s/%s: %w", platform, accountID, err)
	}
	c.logger.Info("credential: account connected",
		"platform", platform,
		"account_id", accountID,
		"owner_id", grant.UserID,
	)
	return cred, nil
}

// Disconnect marks the credential disconnected. It is kept for audit but
// never refreshed or used again.
func (c *Coordinator) Disconnect(ctx context.Context, platform, accountID string) error {
	if err := c.store.SetStatus(ctx, platform, accountID, StatusDisconnected, c.clock.Now()); err != nil {
		return fmt.Errorf("credential: disconnect %s/%s: %w", platform, accountID, err)
	}
	c.logger.Info("credential: account disconnected", "platform", platform, "account_id", accountID)
	return nil
}
