package wizard

import "github.com/pitabwire/casewizard/model"

// Notification types pushed to subscribers.
const (
	NotifyView       = "view"
	NotifySaveState  = "save_state"
	NotifyValidation = "validation"
	NotifyStatus     = "status"
	NotifyBanner     = "banner"
)

// Notification is a change pushed to session subscribers.
type Notification struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SaveStateChange reports a save state transition. Scope is "field" or "notes".
type SaveStateChange struct {
	Scope string          `json:"scope"`
	Key   string          `json:"key"`
	State model.SaveState `json:"state"`
}

// ValidationSummary reports an applied validation result.
type ValidationSummary struct {
	Valid      bool                    `json:"valid"`
	ErrorCount int                     `json:"error_count"`
	Errors     []model.ValidationError `json:"errors"`
}

// StatusChange reports a case status transition.
type StatusChange struct {
	From     model.CaseStatus `json:"from"`
	To       model.CaseStatus `json:"to"`
	Readonly bool             `json:"readonly"`
}

// Subscribe registers a subscriber with a buffer of size buf. Notifications
// are dropped for a subscriber whose buffer is full. The returned cancel
// function unregisters the subscriber and closes the channel.
func (s *Session) Subscribe(buf int) (<-chan Notification, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Notification, buf)

	s.subMu.Lock()
	if s.subsClosed {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) broadcast(n Notification) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subsClosed = true
}
