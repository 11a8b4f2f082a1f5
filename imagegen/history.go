package imagegen

import (
	"sync"
	"time"
)

// HistoryLimit is the number of renders kept per panel.
const HistoryLimit = 6

// Record is one rendered image in a panel's history.
type Record struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ThumbURL  string    `json:"thumb_url"`
	Prompt    string    `json:"prompt"`
	Params    Params    `json:"params"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a newest-first list capped at HistoryLimit entries.
type History struct {
	records []Record
}

// Push prepends r and returns whatever fell off the end.
func (h *History) Push(r Record) (evicted []Record) {
	h.records = append([]Record{r}, h.records...)
	if len(h.records) > HistoryLimit {
		evicted = append(evicted, h.records[HistoryLimit:]...)
		h.records = h.records[:HistoryLimit:HistoryLimit]
	}
	return evicted
}

// Find looks up a record by id.
func (h *History) Find(id string) (Record, bool) {
	for _, r := range h.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Records returns a copy, newest first.
func (h *History) Records() []Record {
	return append([]Record(nil), h.records...)
}

func (h *History) Len() int { return len(h.records) }

// Panel is the per-session state of the image panel.
type Panel struct {
	mu      sync.Mutex
	history History
	current string
	err     *Error
	busy    bool
}

// PanelState is a snapshot of a Panel for rendering.
type PanelState struct {
	Current *Record  `json:"current,omitempty"`
	Error   string   `json:"error,omitempty"`
	Kind    string   `json:"error_kind,omitempty"`
	Busy    bool     `json:"busy"`
	History []Record `json:"history"`
}

// Begin marks a generation as in flight. It returns false if one already is.
func (p *Panel) Begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return false
	}
	p.busy = true
	return true
}

// End clears the in-flight flag.
func (p *Panel) End() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// Record stores a new render, makes it current and clears any error.
func (p *Panel) Record(r Record) (evicted []Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = r.ID
	p.err = nil
	return p.history.Push(r)
}

// Select makes the history entry id current and clears any error.
func (p *Panel) Select(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.history.Find(id); !ok {
		return false
	}
	p.current = id
	p.err = nil
	return true
}

// Fail records err as the panel's visible error.
func (p *Panel) Fail(err *Error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Has reports whether id is in the panel's history.
func (p *Panel) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.history.Find(id)
	return ok
}

// Snapshot returns the current state.
func (p *Panel) Snapshot() PanelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PanelState{Busy: p.busy, History: p.history.Records()}
	if r, ok := p.history.Find(p.current); ok {
		st.Current = &r
	}
	if p.err != nil {
		st.Error = p.err.Message()
		st.Kind = p.err.Kind.String()
	}
	return st
}
