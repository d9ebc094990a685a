// Package state defines the closed set of processing states a run moves
// through, together with their priority ordering.
package state

import (
	"errors"
	"fmt"
)

// ErrUnknownState is returned when a persisted state name is not recognized.
var ErrUnknownState = errors.New("unknown state")

// State is a position in the run workflow. The numeric value is the
// ordinal used for prioritization: a greater ordinal means the run is
// further along and is processed first.
type State int

const (
	New State = iota
	CheckRegistered
	WaitForData
	ClassifyingInstrument
	ClassifyingProtocol
	MakingSampleSheet
	CheckingIndexLength
	ConvertingSimple
	ConvertingComplex
	MergingConversions
	Postprocessing
	Distributing
	CleaningUp
	RunningQC
	Archiving
	Complete
	ErrorDetected
	ErrorNotified
	Reprocess
)

var names = [...]string{
	New:                   "new",
	CheckRegistered:       "check_registered",
	WaitForData:           "wait_for_data",
	ClassifyingInstrument: "classifying_instrument",
	ClassifyingProtocol:   "classifying_protocol",
	MakingSampleSheet:     "making_sample_sheet",
	CheckingIndexLength:   "checking_index_length",
	ConvertingSimple:      "converting_simple",
	ConvertingComplex:     "converting_complex",
	MergingConversions:    "merging_conversions",
	Postprocessing:        "postprocessing",
	Distributing:          "distributing",
	CleaningUp:            "cleaning_up",
	RunningQC:             "running_qc",
	Archiving:             "archiving",
	Complete:              "complete",
	ErrorDetected:         "error_detected",
	ErrorNotified:         "error_notified",
	Reprocess:             "reprocess",
}

var byName = func() map[string]State {
	m := make(map[string]State, len(names))
	for i, n := range names {
		m[n] = State(i)
	}
	return m
}()

// All returns every state in ordinal order.
func All() []State {
	out := make([]State, len(names))
	for i := range names {
		out[i] = State(i)
	}
	return out
}

// Parse resolves a persisted state name.
func Parse(name string) (State, error) {
	s, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
	}
	return s, nil
}

func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return names[s]
}

// Valid reports whether s is a member of the enumeration.
func (s State) Valid() bool {
	return s >= 0 && int(s) < len(names)
}

// Ordinal is the documented sort key; runs with a greater ordinal are
// processed first.
func (s State) Ordinal() int {
	return int(s)
}

// Terminal reports whether no further processing happens in this state.
func (s State) Terminal() bool {
	return s == Complete || s == ErrorNotified
}

// TerminalStates lists the states excluded from the active run list.
func TerminalStates() []State {
	return []State{Complete, ErrorNotified}
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, int(s))
	}
	return []byte(names[s]), nil
}

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
