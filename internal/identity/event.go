package identity

import (
	"sync"

	"github.com/BuzzLyutic/taskstar/internal/model"
)

// Event names an auth state change pushed to listeners.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives pushes. A nil session means signed out.
type Listener func(Event, *model.Session)

// Subscription is released exactly once; further calls do nothing.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}

func NewSubscription(release func()) Subscription {
	return &subscription{release: release}
}
