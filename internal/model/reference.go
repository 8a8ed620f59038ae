package model

import (
	"fmt"
	"strings"
)

// Stage is the registry promotion stage of a model version.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// ParseStage accepts stage names case-insensitively. Empty means None.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return StageNone, nil
	case "staging":
		return StageStaging, nil
	case "production":
		return StageProduction, nil
	case "archived":
		return StageArchived, nil
	default:
		return StageNone, fmt.Errorf("unknown stage %q", s)
	}
}

// Reference identifies one artifact in the registry. It is a value type and
// never mutated after the registry resolves it.
type Reference struct {
	Name    string
	Version string
	Stage   Stage
	// Source is the artifact location as recorded by the registry.
	Source string
	// Checksum is an optional "sha256:<hex>" digest of the artifact bytes.
	Checksum string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s (%s)", r.Name, r.Version, r.Stage)
}

// Equal reports whether both references point at the same artifact with the
// same stage.
func (r Reference) Equal(o Reference) bool {
	return r == o
}
