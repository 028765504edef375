// Package cart keeps a shopper's cart between checkouts and tells other
// components when it changes.
package cart

import (
	"errors"
	"sync"

	"github.com/casca-store/storefront/pkg/models"
)

const MaxItems = 20

var (
	ErrCartFull     = errors.New("Cart is full")
	ErrInvalidIndex = errors.New("no cart item at that position")
)

type ActionType string

const (
	ActionAdd    ActionType = "add"
	ActionRemove ActionType = "remove"
	ActionClear  ActionType = "clear"
)

type Action struct {
	Type  ActionType
	Item  models.CartItem
	Index int
}

func Add(item models.CartItem) Action { return Action{Type: ActionAdd, Item: item} }

func Remove(index int) Action { return Action{Type: ActionRemove, Index: index} }

func Clear() Action { return Action{Type: ActionClear} }

// Reduce applies action to items and returns the new cart; items is not
// modified. Adding a configuration that is already in the cart leaves the
// cart unchanged.
func Reduce(items []models.CartItem, action Action) ([]models.CartItem, error) {
	switch action.Type {
	case ActionAdd:
		for _, existing := range items {
			if sameItem(existing, action.Item) {
				return clone(items), nil
			}
		}
		if len(items) >= MaxItems {
			return nil, ErrCartFull
		}
		return append(clone(items), action.Item), nil

	case ActionRemove:
		if action.Index < 0 || action.Index >= len(items) {
			return nil, ErrInvalidIndex
		}
		next := make([]models.CartItem, 0, len(items)-1)
		next = append(next, items[:action.Index]...)
		return append(next, items[action.Index+1:]...), nil

	case ActionClear:
		return []models.CartItem{}, nil
	}
	return nil, errors.New("unknown cart action")
}

func sameItem(a, b models.CartItem) bool {
	if a.ConfigID != "" || b.ConfigID != "" {
		return a.ConfigID == b.ConfigID
	}
	return a.ImageURL == b.ImageURL
}

func clone(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, len(items))
	copy(out, items)
	return out
}

// Event describes a cart mutation.
type Event struct {
	UserID string            `json:"userId,omitempty"`
	Action ActionType        `json:"action"`
	Items  []models.CartItem `json:"items"`
	Count  int               `json:"count"`
}

// Bus delivers cart events to subscribers without the publisher knowing
// who listens.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}
