// Package session implements the Session Recorder/Replayer (spec.md §4.8,
// §6): every step of a run is persisted as its own JSON file under
// ./.roast/sessions/<workflow_name>/<timestamp>/NNNN_<step_name>.json, and a
// prior session's prefix can be replayed back into a fresh run instead of
// re-executing the model.
//
// Net-new package: the teacher has no replay subsystem, so this is grounded
// directly on spec.md rather than adapted from a teacher file. It reuses
// execcontext's StepResult/Message JSON shapes and zerolog logging
// conventions. Local file persistence uses stdlib encoding/json + os: no
// pack example wraps local session storage in a third-party store, and
// spec.md specifies a literal local directory layout, so stdlib is
// justified here.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/skeinhq/skein/internal/execcontext"
)

// SessionsRoot is the fixed top-level directory spec.md §6 names for
// recorded sessions.
const SessionsRoot = ".roast/sessions"

// Record is the persisted form of one executed step.
type Record struct {
	Index      int                    `json:"step_index"`
	Name       string                 `json:"name"`
	Result     interface{}            `json:"result"`
	Transcript []execcontext.Message  `json:"transcript"`
}

// Recorder writes each step's Record to its own file under
// ./.roast/sessions/<workflow_name>/<timestamp>/.
type Recorder struct {
	dir string
}

// NewRecorder creates the session directory for one run and returns a
// Recorder writing into it.
func NewRecorder(workflowName, timestamp string) (*Recorder, error) {
	dir := filepath.Join(SessionsRoot, sanitize(workflowName), timestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", dir, err)
	}
	return &Recorder{dir: dir}, nil
}

// Dir returns the directory this Recorder is writing into.
func (r *Recorder) Dir() string { return r.dir }

// RecordStep writes one step's Record, implementing engine.Recorder.
func (r *Recorder) RecordStep(index int, name string, result interface{}, transcript []execcontext.Message) error {
	rec := Record{Index: index, Name: name, Result: result, Transcript: transcript}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal step %q record: %w", name, err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%04d_%s.json", index, sanitize(name)))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write session record %s: %w", path, err)
	}
	return nil
}

// Session is a loaded, ordered sequence of step Records from one recorded
// run, ready to be replayed.
type Session struct {
	Dir     string
	Records []Record
}

// Load reads every record file from a session directory, in step-index
// order.
func Load(dir string) (*Session, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read session directory %s: %w", dir, err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read session record %s: %w", entry.Name(), err)
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("parse session record %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return &Session{Dir: dir, Records: records}, nil
}

// RecordFor returns the recorded Record for a step name, if present.
func (s *Session) RecordFor(name string) (Record, bool) {
	for _, r := range s.Records {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

// ReplayMismatch reports that a session being replayed does not match the
// live workflow's step sequence at the point replay was attempted.
type ReplayMismatch struct {
	Expected string
	Actual   string
	Diff     string
}

func (e *ReplayMismatch) Error() string {
	return fmt.Sprintf("replay mismatch: recorded step sequence does not match the current workflow\n%s", e.Diff)
}

// CheckSequence compares the recorded step-name sequence against the live
// workflow's step-name sequence up to the replay point, returning a
// *ReplayMismatch with a readable diff if they differ.
func CheckSequence(recorded []string, live []string) error {
	recordedText := strings.Join(recorded, "\n")
	liveText := strings.Join(live, "\n")
	if recordedText == liveText {
		return nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(recordedText, liveText, false)
	return &ReplayMismatch{
		Expected: recordedText,
		Actual:   liveText,
		Diff:     dmp.DiffPrettyText(diffs),
	}
}

// sanitize makes a workflow/step name safe to use as a path component.
func sanitize(name string) string {
	replacer := strings.NewReplacer("/", "_", " ", "_", "\\", "_")
	return replacer.Replace(name)
}
