package cart

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	sessionName = "casca_cart"
	itemsKey    = "items"
)

// storedItem is the cookie form of a cart line. Images are looked up from
// the configuration, which keeps a full cart well under the 4096 byte
// cookie limit.
type storedItem struct {
	ConfigID string `json:"c"`
	AddedAt  int64  `json:"t"`
}

// SessionStore keeps the cart in a signed, encrypted browser cookie.
type SessionStore struct {
	store *sessions.CookieStore
}

// NewSessionStore signs cookies with key and encrypts them with a key
// derived from it.
func NewSessionStore(key []byte, secure bool) *SessionStore {
	encryption := sha256.Sum256(key)
	store := sessions.NewCookieStore(key, encryption[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store}
}

// Items returns the saved cart without image URLs. A missing or unreadable
// cookie yields an empty cart along with the decode error.
func (s *SessionStore) Items(r *http.Request) ([]models.CartItem, error) {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return []models.CartItem{}, fmt.Errorf("failed to read cart session: %w", err)
	}
	raw, ok := session.Values[itemsKey].(string)
	if !ok || raw == "" {
		return []models.CartItem{}, nil
	}
	var stored []storedItem
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return []models.CartItem{}, fmt.Errorf("failed to decode cart: %w", err)
	}
	items := make([]models.CartItem, 0, len(stored))
	for _, item := range stored {
		items = append(items, models.CartItem{ConfigID: item.ConfigID, AddedAt: item.AddedAt})
	}
	return items, nil
}

// Save writes the cart cookie. A cart whose cookie would exceed the
// browser limit yields ErrCartFull and leaves the old cookie in place.
func (s *SessionStore) Save(w http.ResponseWriter, r *http.Request, items []models.CartItem) error {
	// Get returns a fresh session when the old cookie cannot be decoded.
	session, _ := s.store.Get(r, sessionName)
	stored := make([]storedItem, 0, len(items))
	for _, item := range items {
		stored = append(stored, storedItem{ConfigID: item.ConfigID, AddedAt: item.AddedAt})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	session.Values[itemsKey] = string(data)

	// Only the cookie length can make encoding a map of one string fail.
	encoded, err := securecookie.EncodeMulti(session.Name(), session.Values, s.store.Codecs...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCartFull, err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}
