// Package observe drives the session machine from a live page.
package observe

import (
	"context"
	"strings"
	"time"

	"github.com/thebtf/zetacoach/internal/extract"
	"github.com/thebtf/zetacoach/internal/session"
)

// Snapshot is one capture of the observed document. HTML is a detached
// copy: elements with zero rendered height carry extract.HiddenAttr and
// form controls carry their live value in the value attribute.
type Snapshot struct {
	HTML       string    `json:"html"`
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Page is a live document that can be watched.
type Page interface {
	// DrainMutations returns how many DOM changes happened since the last
	// call and resets the count.
	DrainMutations(ctx context.Context) (int, error)
	// Capture takes a full snapshot.
	Capture(ctx context.Context) (Snapshot, error)
	// ReadInput returns the answer input's value; ok is false when the
	// page has no candidate input.
	ReadInput(ctx context.Context) (value string, ok bool, err error)
}

// Processor consumes observations. *session.Machine implements it.
type Processor interface {
	Process(obs session.Observation)
}

// ObservationFromSnapshot extracts a Reading from snap.
func ObservationFromSnapshot(ex *extract.Extractor, snap Snapshot) (session.Observation, error) {
	r, err := ex.ExtractHTML(strings.NewReader(snap.HTML))
	if err != nil {
		return session.Observation{}, err
	}
	obs := session.ReadingObservation(snap.URL, r)
	obs.At = snap.CapturedAt
	return obs, nil
}
