package guard

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

type Action string

const (
	ActionBlock    Action = "block"
	ActionContinue Action = "continue"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBlock, ActionContinue:
		return true
	default:
		return false
	}
}

type State string

const (
	StateAllowed State = "allowed"
	StateBlocked State = "blocked"
)

// Reason says how a submission reached its final state.
type Reason string

const (
	ReasonClean         Reason = "clean"
	ReasonDisabled      Reason = "scanning_disabled"
	ReasonWhitelisted   Reason = "whitelisted"
	ReasonReentry       Reason = "reentry"
	ReasonAutoBlock     Reason = "auto_block"
	ReasonUserChoice    Reason = "user_choice"
	ReasonDismissed     Reason = "dismissed"
	ReasonDecisionError Reason = "decision_error"
	ReasonTimeout       Reason = "timeout"
	ReasonCancelled     Reason = "cancelled"
	ReasonSuperseded    Reason = "superseded"
)

// PendingView is the read-only projection of a pending decision handed to
// deciders and API clients.
type PendingView struct {
	ID        string           `json:"id"`
	FormID    string           `json:"form_id"`
	URL       string           `json:"url,omitempty"`
	TabID     *int             `json:"tab_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Scan      model.ScanResult `json:"scan"`
}

// Pending correlates one guarded submission with its decision. It resolves
// exactly once.
type Pending struct {
	id      string
	formID  string
	url     string
	tabID   *int
	created time.Time
	scan    model.ScanResult

	once   sync.Once
	done   chan struct{}
	action Action
	reason Reason
}

func newPending(id string, sub Submission, res model.ScanResult, now time.Time) *Pending {
	return &Pending{
		id:      id,
		formID:  sub.FormID,
		url:     sub.URL,
		tabID:   sub.TabID,
		created: now,
		scan:    res,
		done:    make(chan struct{}),
	}
}

func (p *Pending) resolve(action Action, reason Reason) error {
	resolved := false
	p.once.Do(func() {
		p.action = action
		p.reason = reason
		close(p.done)
		resolved = true
	})
	if !resolved {
		return ErrAlreadyResolved
	}
	return nil
}

// outcome blocks until the decision is made.
func (p *Pending) outcome() (Action, Reason) {
	<-p.done
	return p.action, p.reason
}

func (p *Pending) view() PendingView {
	return PendingView{
		ID:        p.id,
		FormID:    p.formID,
		URL:       p.url,
		TabID:     p.tabID,
		CreatedAt: p.created,
		Scan:      p.scan,
	}
}

func newID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "sub-" + hex.EncodeToString(b[:]), nil
}
