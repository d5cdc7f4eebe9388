package returns

import (
	"context"
	"fmt"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
)

// State is a step of the return flow.
type State string

const (
	StateSelect    State = "select"
	StateConfigure State = "configure"
	StatePreview   State = "preview"
	StateConfirm   State = "confirm"
	StateCommitted State = "committed"
	StateCancelled State = "cancelled"
)

// transitions lists the allowed moves. Committed and Cancelled are terminal.
var transitions = map[State][]State{
	StateSelect:    {StateConfigure, StateCancelled},
	StateConfigure: {StateSelect, StatePreview, StateCancelled},
	StatePreview:   {StateConfigure, StateConfirm, StateCancelled},
	StateConfirm:   {StatePreview, StateCommitted, StateCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Session drives one operator through select, configure, preview, confirm
// and commit for a single sale. Nothing is written before Commit.
// A Session is not safe for concurrent use.
type Session struct {
	ID        id.ID
	state     State
	catalog   *Catalog
	config    *ConfigurationSet
	preview   *PreviewResult
	result    *CommitResult
	committer *Committer
	observer  Observer
	actorID   string
	// commitKey ties every commit attempt of this session to one ledger key.
	commitKey string
	attempted bool
}

// NewSession starts a session in the Select state.
func NewSession(catalog *Catalog, committer *Committer, observer Observer, actorID string, minReasonLength int) *Session {
	if observer == nil {
		observer = Observers(nil)
	}
	sessionID := id.New()
	return &Session{
		ID:        sessionID,
		commitKey: sessionID.String(),
		state:     StateSelect,
		catalog:   catalog,
		config:    NewConfigurationSet(catalog, minReasonLength),
		committer: committer,
		observer:  observer,
		actorID:   actorID,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Catalog returns the catalog the session was opened on.
func (s *Session) Catalog() *Catalog { return s.catalog }

// Configuration returns the session's configuration set.
func (s *Session) Configuration() *ConfigurationSet { return s.config }

// CommitKey is the key commits of this session are written under.
func (s *Session) CommitKey() string { return s.commitKey }

// Result returns the commit result once Committed.
func (s *Session) Result() *CommitResult { return s.result }

func (s *Session) transition(next State) error {
	if s.state == next {
		return nil
	}
	if !s.state.CanTransitionTo(next) {
		return apperror.NewInvalidState(string(s.state), string(next))
	}
	s.state = next
	return nil
}

// editable moves the session into Configure, stepping back from Preview
// when needed. Editing is not allowed once the operator confirmed.
func (s *Session) editable() error {
	switch s.state {
	case StateSelect, StateConfigure:
		return s.transition(StateConfigure)
	case StatePreview:
		s.preview = nil
		return s.transition(StateConfigure)
	default:
		return apperror.NewInvalidState(string(s.state), string(StateConfigure))
	}
}

// Select adds a line to the return.
func (s *Session) Select(lineItemID id.ID) error {
	if err := s.editable(); err != nil {
		return err
	}
	return s.config.Select(lineItemID)
}

// Deselect removes a line. Removing the last one goes back to Select.
func (s *Session) Deselect(lineItemID id.ID) error {
	if err := s.editable(); err != nil {
		return err
	}
	s.config.Deselect(lineItemID)
	if s.config.Len() == 0 {
		return s.transition(StateSelect)
	}
	return nil
}

// Configure sets disposition, quantity and reason for a line.
func (s *Session) Configure(lineItemID id.ID, in ConfigureInput) (*ClampWarning, error) {
	if err := s.editable(); err != nil {
		return nil, err
	}
	return s.config.Configure(lineItemID, in)
}

// Preview computes the projected outcome and moves to Preview.
func (s *Session) Preview(ctx context.Context) (*PreviewResult, error) {
	if s.state == StateSelect {
		if err := s.transition(StateConfigure); err != nil {
			return nil, err
		}
	}
	if !s.state.CanTransitionTo(StatePreview) && s.state != StatePreview {
		return nil, apperror.NewInvalidState(string(s.state), string(StatePreview))
	}

	p, err := GeneratePreview(s.catalog, s.config)
	if err != nil {
		return nil, err
	}
	if err := s.transition(StatePreview); err != nil {
		return nil, err
	}
	s.preview = p
	s.observer.OnPreviewReady(ctx, p)
	return p, nil
}

// Back returns from Confirm to Preview or from Preview to Configure.
func (s *Session) Back() error {
	switch s.state {
	case StateConfirm:
		return s.transition(StatePreview)
	case StatePreview:
		s.preview = nil
		return s.transition(StateConfigure)
	case StateConfigure:
		return s.transition(StateSelect)
	default:
		return apperror.NewInvalidState(string(s.state), "previous")
	}
}

// Confirm records the operator's go-ahead on the current preview.
func (s *Session) Confirm() error {
	if s.state != StatePreview || s.preview == nil {
		return apperror.NewInvalidState(string(s.state), string(StateConfirm))
	}
	return s.transition(StateConfirm)
}

// Commit applies the confirmed configuration. On success the session is
// Committed; on any failure it stays in Confirm and a retry resumes the same
// ledger entries.
//
// An empty commitKey uses the session's own key. A caller-supplied key is
// adopted on the first attempt; once an attempt has been made, any other key
// is rejected so a retry cannot write the same lines twice.
func (s *Session) Commit(ctx context.Context, commitKey string) (*CommitResult, error) {
	if s.state != StateConfirm {
		return nil, apperror.NewInvalidState(string(s.state), string(StateCommitted))
	}
	if s.committer == nil {
		return nil, fmt.Errorf("session %s has no committer", s.ID)
	}

	switch {
	case commitKey == "" || commitKey == s.commitKey:
	case s.attempted:
		return nil, apperror.NewConflict("session already committed under another key").
			WithDetail("commit_key", s.commitKey)
	default:
		s.commitKey = commitKey
	}
	s.attempted = true

	res, err := s.committer.Commit(ctx, CommitRequest{
		SaleID:    s.catalog.SaleID,
		CommitKey: s.commitKey,
		ActorID:   s.actorID,
		Items:     s.config.Selected(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.transition(StateCommitted); err != nil {
		return nil, err
	}
	s.result = res
	return res, nil
}

// Cancel abandons the flow. Lines already written by a partially failed
// commit stay in the ledger.
func (s *Session) Cancel() error {
	if s.state.IsTerminal() {
		return apperror.NewInvalidState(string(s.state), string(StateCancelled))
	}
	s.preview = nil
	return s.transition(StateCancelled)
}
