package alerts

import (
	"sync"

	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

// LogNotifier writes a warning log line per alert.
type LogNotifier struct{}

func (LogNotifier) Notify(a model.Alert) {
	logger.Warn("sensitive data alert", "id", a.ID, "title", a.Title, "severity", a.Severity, "url", a.URL)
}

// Fanout forwards each alert to every subscriber channel without blocking;
// a subscriber that is not keeping up misses alerts.
type Fanout struct {
	mu   sync.Mutex
	subs map[chan model.Alert]struct{}
	next Notifier
}

func NewFanout(next Notifier) *Fanout {
	return &Fanout{subs: make(map[chan model.Alert]struct{}), next: next}
}

func (f *Fanout) Notify(a model.Alert) {
	if f.next != nil {
		f.next.Notify(a)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- a:
		default:
		}
	}
}

// Subscribe returns a channel of future alerts and a cancel func that
// closes it.
func (f *Fanout) Subscribe(buffer int) (<-chan model.Alert, func()) {
	ch := make(chan model.Alert, buffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}
