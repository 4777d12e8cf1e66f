// Package identity tracks the portal sign-in state. Sign-in problems are
// never fatal: the viewer keeps working anonymously.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/event"
)

// Credential is a token issued for a portal.
type Credential struct {
	Server  string
	Token   string
	Expires time.Time
}

func (c Credential) expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// CredentialStore holds tokens and announces new ones.
type CredentialStore struct {
	mu      sync.Mutex
	creds   []Credential
	created *event.Bus[Credential]
	now     func() time.Time
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{created: event.NewBus[Credential](), now: time.Now}
}

// Add stores c, replacing any credential for the same server, and notifies
// OnCreate listeners.
func (s *CredentialStore) Add(c Credential) {
	c.Server = normalize(c.Server)
	s.mu.Lock()
	kept := s.creds[:0]
	for _, old := range s.creds {
		if old.Server != c.Server {
			kept = append(kept, old)
		}
	}
	s.creds = append(kept, c)
	s.mu.Unlock()
	s.created.Publish(c)
}

// Find returns the unexpired credential for server.
func (s *CredentialStore) Find(server string) (Credential, bool) {
	server = normalize(server)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.creds {
		if c.Server == server && !c.expired(s.now()) {
			return c, true
		}
	}
	return Credential{}, false
}

// DestroyAll removes every credential.
func (s *CredentialStore) DestroyAll() {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()
}

// OnCreate registers a listener for new credentials.
func (s *CredentialStore) OnCreate(fn func(Credential)) (off func()) {
	return s.created.On(fn)
}

func normalize(server string) string {
	return strings.TrimRight(strings.ToLower(server), "/")
}

// Portal is the part of the portal client the manager needs.
type Portal interface {
	URL() string
	Self(ctx context.Context, token string) (*arcgis.PortalSelf, error)
	ThumbnailURL(user *arcgis.PortalUser, token string) string
}

// UI is the projected sign-in state.
type UI struct {
	SignInVisible bool   `json:"signInVisible"`
	UserVisible   bool   `json:"userVisible"`
	FirstName     string `json:"firstName"`
	FullName      string `json:"fullName"`
	Username      string `json:"username"`
	ThumbnailURL  string `json:"thumbnailUrl"`
}

// Manager signs the viewer in and out of the portal.
type Manager struct {
	portal Portal
	store  *CredentialStore
	hub    *event.Hub

	mu   sync.RWMutex
	user *arcgis.PortalUser
	ui   UI
	off  func()
}

// NewManager creates a signed-out manager.
func NewManager(portal Portal, store *CredentialStore, hub *event.Hub) *Manager {
	return &Manager{portal: portal, store: store, hub: hub, ui: UI{SignInVisible: true}}
}

// InitializeUserSignIn checks the current status and re-checks whenever a
// credential is created. It never fails.
func (m *Manager) InitializeUserSignIn(ctx context.Context) error {
	m.mu.Lock()
	if m.off == nil {
		m.off = m.store.OnCreate(func(Credential) { m.checkSignInStatus(ctx) })
	}
	m.mu.Unlock()
	m.checkSignInStatus(ctx)
	return nil
}

// Close stops listening for credentials.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.off != nil {
		m.off()
		m.off = nil
	}
	m.mu.Unlock()
}

func (m *Manager) checkSignInStatus(ctx context.Context) {
	if _, ok := m.store.Find(m.portal.URL()); ok {
		m.SignIn(ctx)
		return
	}
	m.SignOut(ctx)
}

// AddCredential registers a token for the portal, which triggers sign-in.
func (m *Manager) AddCredential(token string, expires time.Time) {
	m.store.Add(Credential{Server: m.portal.URL(), Token: token, Expires: expires})
}

// SignIn loads the portal with the stored credential.
func (m *Manager) SignIn(ctx context.Context) {
	cred, ok := m.store.Find(m.portal.URL())
	if !ok {
		zap.L().Warn("identity: no credential for portal", zap.String("portal", m.portal.URL()))
		m.apply(nil, "", false)
		return
	}
	self, err := m.portal.Self(ctx, cred.Token)
	if err != nil || self.User == nil {
		zap.L().Warn("identity: sign in failed", zap.String("portal", m.portal.URL()), zap.Error(err))
		m.apply(nil, "", false)
		return
	}
	zap.L().Info("identity: signed in", zap.String("user", self.User.Username))
	m.apply(self.User, cred.Token, true)
}

// SignOut destroys credentials and loads the portal anonymously.
func (m *Manager) SignOut(ctx context.Context) {
	m.store.DestroyAll()
	if _, err := m.portal.Self(ctx, ""); err != nil {
		zap.L().Warn("identity: anonymous portal load failed", zap.Error(err))
		m.apply(nil, "", false)
		return
	}
	m.apply(nil, "", true)
}

// apply updates the projection. portal-user-change is only announced after
// the portal loaded.
func (m *Manager) apply(user *arcgis.PortalUser, token string, loaded bool) {
	ui := UI{SignInVisible: user == nil, UserVisible: user != nil}
	if user != nil {
		ui.FullName = user.FullName
		ui.Username = user.Username
		if fields := strings.Fields(user.FullName); len(fields) > 0 {
			ui.FirstName = fields[0]
		}
		ui.ThumbnailURL = m.portal.ThumbnailURL(user, token)
	}

	m.mu.Lock()
	m.user = user
	m.ui = ui
	m.mu.Unlock()

	if loaded {
		m.hub.PortalUser.Publish(event.PortalUserChange{})
	}
	m.hub.Changed(event.TopicIdentity, "")
}

// User returns the signed-in user, or nil.
func (m *Manager) User() *arcgis.PortalUser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// Authenticated reports whether a user is signed in.
func (m *Manager) Authenticated() bool {
	return m.User() != nil
}

// UI returns the projected sign-in state.
func (m *Manager) UI() UI {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ui
}
