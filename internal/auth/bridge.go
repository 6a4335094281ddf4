package auth

import (
	"context"
	"log/slog"
	"sync"

	"lumichat/internal/domain"
	"lumichat/internal/persist"
	"lumichat/internal/store"
)

// Verifier is the identity-provider surface the bridge needs.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.UserProfile, error)
	Revoke(ctx context.Context, uid string) error
}

// Bridge ties identity state to the session store: it loads the matching
// history on every identity change and autosaves anonymous sessions locally.
type Bridge struct {
	store   *store.Store
	persist *persist.Adapter
	client  Verifier
	logger  *slog.Logger

	mu      sync.Mutex
	profile domain.UserProfile

	unsubscribe func()
}

func NewBridge(st *store.Store, p *persist.Adapter, client Verifier, logger *slog.Logger) *Bridge {
	b := &Bridge{
		store:   st,
		persist: p,
		client:  client,
		logger:  logger,
		profile: guestProfile(),
	}
	// Anonymous sessions autosave on every store change; signed-in sessions
	// are written per-turn by the controller instead.
	b.unsubscribe = st.Subscribe(func(store.Event) {
		if !b.Profile().IsLoggedIn {
			b.persist.SaveLocal(b.store.Sessions())
		}
	})
	return b
}

func guestProfile() domain.UserProfile {
	return domain.UserProfile{Name: "Guest", IsLoggedIn: false}
}

// Profile returns the current identity.
func (b *Bridge) Profile() domain.UserProfile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profile
}

// Start seeds the store with the anonymous local history and restores the
// previously active session when it still exists.
func (b *Bridge) Start() {
	sessions := b.persist.LoadLocal()
	b.store.ReplaceAll(sessions)
	b.restoreActive(sessions)
}

// SignIn verifies the token, swaps the store onto the user's cloud history,
// and restores the last active session if it survives in the cloud list.
// The anonymous local history stays untouched for the next sign-out.
func (b *Bridge) SignIn(ctx context.Context, token string) (domain.UserProfile, error) {
	profile, err := b.client.Verify(ctx, token)
	if err != nil {
		b.logger.Warn("sign-in failed", "err", err, "guidance", Guidance(err))
		return domain.UserProfile{}, err
	}

	b.mu.Lock()
	b.profile = profile
	b.mu.Unlock()

	sessions := b.persist.LoadRemote(ctx, profile.UID)
	b.store.ReplaceAll(sessions)
	b.restoreActive(sessions)

	b.logger.Info("signed in", "uid", profile.UID, "sessions", len(sessions))
	return profile, nil
}

// SignOut returns to the guest identity and the local history. Server-side
// revocation failure does not block the local transition.
func (b *Bridge) SignOut(ctx context.Context) {
	b.mu.Lock()
	uid := b.profile.UID
	b.profile = guestProfile()
	b.mu.Unlock()

	if uid != "" {
		if err := b.client.Revoke(ctx, uid); err != nil {
			b.logger.Warn("revoke failed", "err", err)
		}
	}

	sessions := b.persist.LoadLocal()
	b.store.ReplaceAll(sessions)
	b.restoreActive(sessions)
	b.logger.Info("signed out")
}

// restoreActive re-selects the saved active session id when it exists in
// the freshly loaded list; otherwise the selection clears.
func (b *Bridge) restoreActive(sessions []domain.ChatSession) {
	saved, err := b.persist.Local().GetKey(domain.KeyActiveSessionID)
	if err != nil {
		b.logger.Warn("active session key read failed", "err", err)
		return
	}
	if saved == "" {
		return
	}
	for _, s := range sessions {
		if s.ID == saved {
			b.store.SelectSession(saved)
			return
		}
	}
	b.store.ClearActive()
}

// Onboarded reports whether the first-run walkthrough has been completed.
func (b *Bridge) Onboarded() bool {
	v, err := b.persist.Local().GetKey(domain.KeyOnboarded)
	if err != nil {
		return false
	}
	return v == "true"
}

// SetOnboarded records walkthrough completion.
func (b *Bridge) SetOnboarded() {
	if err := b.persist.Local().SetKey(domain.KeyOnboarded, "true"); err != nil {
		b.logger.Warn("onboarding flag save failed", "err", err)
	}
}

// Close detaches the autosave listener.
func (b *Bridge) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}
