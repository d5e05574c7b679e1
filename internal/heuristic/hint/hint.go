// Package hint implements the heuristic for hint files, small JSON
// documents placed next to unpacked upstream content that name the
// package it came from.
package hint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/heuristic"
	"github.com/hashget/hashget/internal/textfile"
)

// Basenames of hint files.
var Basenames = []string{"hashget-hint.json", ".hashget-hint.json"}

// Hint is the content of a hint file.
type Hint struct {
	URL     string `json:"url"`
	Project string `json:"project,omitempty"`
}

// Write saves a hint for url into dir.
func Write(dir string, h Hint) error {
	buf, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(filepath.Join(dir, Basenames[0]), buf, 0644))
}

type heur struct{}

// New returns the heuristic.
func New(heuristic.Options) heuristic.Heuristic {
	return heur{}
}

func (heur) Name() string {
	return "hint"
}

func isHintFile(path string) bool {
	base := filepath.Base(path)
	for _, b := range Basenames {
		if base == b {
			return true
		}
	}
	return false
}

func (heur) Check(path string) ([]*heuristic.SubmitRequest, error) {
	if !isHintFile(path) {
		return nil, nil
	}

	var h Hint
	if err := textfile.ReadJSON(path, &h); err != nil {
		return nil, errors.Wrap(err, "hint")
	}
	if h.URL == "" {
		debug.Log("hint %v has no url", path)
		return nil, nil
	}
	if h.Project == "" {
		h.Project = hashdb.ProjectHints
	}

	return []*heuristic.SubmitRequest{{
		URL:        h.URL,
		Signatures: map[string]string{hashdb.SigURL: h.URL},
		Project:    h.Project,
	}}, nil
}
