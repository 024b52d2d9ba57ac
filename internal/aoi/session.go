package aoi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aoi-tools/aoi-workbench/internal/geometry"
)

// State is the selection/edit mode of the session.
type State int

const (
	Idle State = iota
	Selected
	Editing
)

func (s State) String() string {
	switch s {
	case Selected:
		return "selected"
	case Editing:
		return "editing"
	default:
		return "idle"
	}
}

// DrawEvent is a completion event from the drawing affordance. Exactly
// one of the concrete types below is delivered per gesture.
type DrawEvent interface {
	isDrawEvent()
}

// Created is emitted when a new polygon has been drawn.
type Created struct {
	Vertices []geometry.Vertex
	Name     string
}

// Edited is emitted when an edit gesture finished with new geometry.
type Edited struct {
	ID       string
	Vertices []geometry.Vertex
}

// EditCancelled is emitted when an edit gesture was abandoned.
type EditCancelled struct {
	ID string
}

func (Created) isDrawEvent()       {}
func (Edited) isDrawEvent()        {}
func (EditCancelled) isDrawEvent() {}

// Session tracks which AOI is selected and whether it is being edited.
// At most one AOI is selected system-wide, and only the selected AOI
// can enter edit mode.
type Session struct {
	mu     sync.Mutex
	logger *slog.Logger
	repo   *Repository

	state      State
	selectedID string
}

func NewSession(logger *slog.Logger, repo *Repository) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{logger: logger, repo: repo}
}

// Snapshot returns the current state and selected id ("" when idle).
func (s *Session) Snapshot() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.selectedID
}

// ClickAOI selects the clicked area; re-clicking the selected area
// toggles back to idle. Ignored while editing.
func (s *Session) ClickAOI(id string) error {
	if _, ok := s.repo.Find(id); !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Editing {
		return ErrEditing
	}
	if s.state == Selected && s.selectedID == id {
		s.state = Idle
		s.selectedID = ""
		return nil
	}
	s.state = Selected
	s.selectedID = id
	return nil
}

// ClickEmpty clears the selection. Edit mode must be exited explicitly
// first, so the click is rejected while editing.
func (s *Session) ClickEmpty() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Editing {
		return ErrEditing
	}
	s.state = Idle
	s.selectedID = ""
	return nil
}

// BeginEdit moves the selected area into edit mode.
func (s *Session) BeginEdit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == Editing:
		if s.selectedID == id {
			return nil
		}
		return ErrEditingOther
	case s.state != Selected || s.selectedID != id:
		return fmt.Errorf("%w: area %s must be selected before editing", ErrNotFound, id)
	}
	s.state = Editing
	return nil
}

// ManualEntryEnabled reports whether the manual grid-reference entry
// affordance is available; it is mutually exclusive with live redraw.
func (s *Session) ManualEntryEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != Editing
}

// Apply consumes a completion event from the drawing affordance.
func (s *Session) Apply(ctx context.Context, ev DrawEvent) (AOI, error) {
	switch e := ev.(type) {
	case Created:
		return s.repo.Create(ctx, e.Vertices, e.Name)

	case Edited:
		s.mu.Lock()
		if s.state != Editing || s.selectedID != e.ID {
			s.mu.Unlock()
			return AOI{}, fmt.Errorf("%w: area %s is not in edit mode", ErrNotFound, e.ID)
		}
		s.mu.Unlock()

		if err := s.repo.UpdateBoundary(ctx, e.ID, e.Vertices); err != nil {
			return AOI{}, err
		}
		s.mu.Lock()
		s.state = Selected
		s.mu.Unlock()
		rec, _ := s.repo.Find(e.ID)
		return rec, nil

	case EditCancelled:
		s.mu.Lock()
		if s.state == Editing && s.selectedID == e.ID {
			s.state = Selected
		}
		s.mu.Unlock()
		rec, _ := s.repo.Find(e.ID)
		return rec, nil

	default:
		return AOI{}, fmt.Errorf("aoi: unknown draw event %T", ev)
	}
}

// Delete removes an area through the repository, clearing the
// selection first when the area is the selected one.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.selectedID == id {
		if s.state == Editing {
			s.mu.Unlock()
			return ErrEditing
		}
		s.state = Idle
		s.selectedID = ""
	}
	s.mu.Unlock()
	return s.repo.Delete(ctx, id)
}

// DeleteAll empties the collection and the selection.
func (s *Session) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Editing {
		s.mu.Unlock()
		return ErrEditing
	}
	s.state = Idle
	s.selectedID = ""
	s.mu.Unlock()
	s.repo.DeleteAll(ctx)
	return nil
}

// CreateFromMGRS is the manual-entry path; it is disabled while an
// edit is in progress.
func (s *Session) CreateFromMGRS(ctx context.Context, ref, name string) (AOI, error) {
	if !s.ManualEntryEnabled() {
		return AOI{}, ErrEditing
	}
	return s.repo.CreateFromMGRS(ctx, ref, name)
}
