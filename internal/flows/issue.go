package flows

import (
	"errors"
	"time"

	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/session"
)

// IssuedTokens is the flow-local token pair.
type IssuedTokens struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssueDeps captures token issuance dependencies.
type IssueDeps struct {
	Codec      *jwt.Codec
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// IssueTokens signs an access and a refresh token for subject in session
// lineage sessionID and returns the refresh record to persist. Nothing is
// written here; login inserts the record and refresh rotates onto it.
func IssueTokens(subject, sessionID string, deps IssueDeps) (*IssuedTokens, *session.Record, error) {
	if deps.Codec == nil {
		return nil, nil, errors.New("token codec not configured")
	}

	access, accessClaims, err := deps.Codec.Issue(subject, jwt.TypeAccess, deps.AccessTTL, jwt.WithSessionID(sessionID))
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshClaims, err := deps.Codec.Issue(subject, jwt.TypeRefresh, deps.RefreshTTL, jwt.WithSessionID(sessionID))
	if err != nil {
		return nil, nil, err
	}

	rec := &session.Record{
		TokenID:   session.HashTokenID(refreshClaims.ID),
		Subject:   subject,
		SessionID: sessionID,
		IssuedAt:  refreshClaims.IssuedAtTime(),
		ExpiresAt: refreshClaims.ExpiresAtTime(),
	}

	return &IssuedTokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sessionID,
		AccessExpiresAt:  accessClaims.ExpiresAtTime(),
		RefreshExpiresAt: refreshClaims.ExpiresAtTime(),
	}, rec, nil
}
