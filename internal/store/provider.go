// Package store persists the session collection, the active-session pointer,
// and key/value settings. Writes are whole-collection replaces: the in-memory
// state is authoritative and the last write wins.
package store

import "github.com/starford/ansuz/internal/models"

// Provider is the persistence boundary consumed by the chat service. It has
// an explicit lifecycle instead of ambient singletons: Open before first
// use, Flush at safepoints, Close at shutdown.
type Provider interface {
	Open() error
	Flush() error
	Close() error

	// SaveSessions replaces the entire stored collection.
	SaveSessions(sessions []*models.Session) error
	LoadSessions() ([]*models.Session, error)

	// SaveActiveID persists which session is focused; "" clears it.
	SaveActiveID(id string) error
	LoadActiveID() (string, error)

	// Settings are small freeform values (model ids and the like).
	// LoadSetting returns "" without error for an absent key.
	SaveSetting(key, value string) error
	LoadSetting(key string) (string, error)
}
