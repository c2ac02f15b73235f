package run

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/chelnak/ysmrr"

	"github.com/loomforge/loomforge/core/models"
)

// stepSpinnerState tracks one step's spinner and the display width shared across all of them.
type stepSpinnerState struct {
	spinner    *ysmrr.Spinner
	name       string
	nameWidth  int
	statusText string
	finished   bool
}

func newStepSpinnerState(spinner *ysmrr.Spinner, name string, nameWidth int) *stepSpinnerState {
	s := &stepSpinnerState{spinner: spinner, name: name, nameWidth: nameWidth, statusText: "pending"}
	spinner.UpdateMessage(s.displayMessage())
	spinner.Start()
	return s
}

func (s *stepSpinnerState) setNameWidth(width int) {
	s.nameWidth = width
	s.spinner.UpdateMessage(s.displayMessage())
}

func (s *stepSpinnerState) setStatus(text string, finished bool) {
	if s.finished {
		return
	}
	s.statusText = text
	s.spinner.UpdateMessage(s.displayMessage())
	s.finished = finished
}

func (s *stepSpinnerState) displayMessage() string {
	name := s.name
	length := utf8.RuneCountInString(name)
	if s.nameWidth > length {
		name += strings.Repeat(" ", s.nameWidth-length)
	} else if s.nameWidth < length {
		runes := []rune(name)
		name = string(runes[:s.nameWidth])
	}
	return fmt.Sprintf("%s  %s", name, s.statusText)
}

// stepSpinnerManager drives a ysmrr spinner per step, fed by the Event Log's own events rather
// than polling the Job. A nil *stepSpinnerManager is always safe to call, so run can skip
// construction entirely under --json.
type stepSpinnerManager struct {
	manager ysmrr.SpinnerManager
	mu      sync.Mutex
	byName  map[string]*stepSpinnerState
}

func newStepSpinnerManager() *stepSpinnerManager {
	return &stepSpinnerManager{
		manager: ysmrr.NewSpinnerManager(),
		byName:  map[string]*stepSpinnerState{},
	}
}

func (m *stepSpinnerManager) start() {
	if m == nil {
		return
	}
	m.manager.Start()
}

func (m *stepSpinnerManager) stop() {
	if m == nil {
		return
	}
	m.manager.Stop()
}

// observe is handed to app.Prepare as the event observer; it updates spinners for step.*
// event types and ignores everything else.
func (m *stepSpinnerManager) observe(e models.Event) {
	if m == nil || e.Step == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.byName[e.Step]
	if !ok {
		maxWidth := 0
		for _, s := range m.byName {
			if s.nameWidth > maxWidth {
				maxWidth = s.nameWidth
			}
		}
		if w := utf8.RuneCountInString(e.Step); w > maxWidth {
			maxWidth = w
			for _, s := range m.byName {
				s.setNameWidth(maxWidth)
			}
		}
		state = newStepSpinnerState(m.manager.AddSpinner(""), e.Step, maxWidth)
		m.byName[e.Step] = state
	}

	switch e.Type {
	case models.EventStepStarted:
		state.setStatus("running", false)
	case models.EventStepSucceeded:
		state.setStatus("succeeded", true)
		state.spinner.Complete()
	case models.EventStepCached:
		state.setStatus("cached", true)
		state.spinner.Complete()
	case models.EventStepSkipped:
		state.setStatus("skipped", true)
		state.spinner.Complete()
	case models.EventStepFailed:
		state.setStatus("failed", true)
		state.spinner.Error()
	case models.EventStepCancelled:
		state.setStatus("cancelled", true)
		state.spinner.Error()
	}
}
