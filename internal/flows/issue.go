package flows

import (
	"context"
	"time"

	"github.com/tokenwarden/authcore/refresh"
	"github.com/tokenwarden/authcore/storage"
)

// IssueFailureKind classifies token-pair issuance failures.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureInactive
	IssueFailureMint
	IssueFailurePersist
	IssueFailureNotReady
)

// IssueDeps captures token-pair issuance dependencies.
type IssueDeps struct {
	Store  IssueStore
	Tokens TokenSource
	Now    func() time.Time
}

// IssueResult carries the issued pair or failure metadata.
type IssueResult struct {
	Failure      IssueFailureKind
	Err          error
	AccessToken  string
	RefreshToken string
	Row          *storage.RefreshToken
}

// RunIssueTokenPair signs an access token for u, then persists a new refresh row. The
// insert is the last fallible step, so a returned pair is always backed by a
// committed row.
func RunIssueTokenPair(ctx context.Context, u *storage.User, deps IssueDeps) IssueResult {
	if deps.Store == nil || !deps.Tokens.ready() {
		return IssueResult{Failure: IssueFailureNotReady}
	}
	if !u.IsActive {
		return IssueResult{Failure: IssueFailureInactive}
	}
	now := nowFunc(deps.Now)().UTC()

	access, secret, row, err := mintPair(u, deps.Tokens, now)
	if err != nil {
		return IssueResult{Failure: IssueFailureMint, Err: err}
	}
	if err := deps.Store.SaveRefreshToken(ctx, row); err != nil {
		return IssueResult{Failure: IssueFailurePersist, Err: err}
	}

	return IssueResult{
		AccessToken:  access,
		RefreshToken: secret,
		Row:          row,
	}
}

// mintPair produces everything a pair needs without touching the store.
func mintPair(u *storage.User, src TokenSource, now time.Time) (access, secret string, row *storage.RefreshToken, err error) {
	access, err = src.SignAccess(u)
	if err != nil {
		return "", "", nil, err
	}
	secret, err = src.NewSecret()
	if err != nil {
		return "", "", nil, err
	}
	id, err := src.NewID()
	if err != nil {
		return "", "", nil, err
	}
	row = &storage.RefreshToken{
		ID:        id,
		UserID:    u.ID,
		TokenHash: refresh.Digest(secret),
		ExpiresAt: now.Add(src.RefreshTTL),
		CreatedAt: now,
	}
	return access, secret, row, nil
}
