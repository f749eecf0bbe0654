package singer

import (
	"encoding/json"
	"os"
	"time"
)

// State bookmarks each stream per source file on the file's modification
// time, so a later run can skip files that did not change.
type State struct {
	Bookmarks map[string]*StreamState `json:"bookmarks"`
}

type StreamState struct {
	// Base filename -> RFC3339 modification time of the last full read
	Files map[string]string `json:"files"`
}

func NewState() *State {
	return &State{Bookmarks: map[string]*StreamState{}}
}

// LoadState reads a state document from disk. An empty path yields a fresh
// state.
func LoadState(path string) (*State, error) {
	if path == "" {
		return NewState(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Bookmarks == nil {
		state.Bookmarks = map[string]*StreamState{}
	}
	return state, nil
}

// ShouldSkip reports whether the file was already read at this or a later
// modification time.
func (s *State) ShouldSkip(stream, file string, mtime time.Time) bool {
	streamState, ok := s.Bookmarks[stream]
	if !ok {
		return false
	}
	bookmark, ok := streamState.Files[file]
	if !ok {
		return false
	}
	bookmarkTime, err := time.Parse(time.RFC3339, bookmark)
	if err != nil {
		return false
	}
	return !mtime.After(bookmarkTime)
}

// Advance records that the file was fully read at the given modification time.
func (s *State) Advance(stream, file string, mtime time.Time) {
	streamState, ok := s.Bookmarks[stream]
	if !ok {
		streamState = &StreamState{Files: map[string]string{}}
		s.Bookmarks[stream] = streamState
	}
	streamState.Files[file] = mtime.UTC().Format(time.RFC3339)
}
