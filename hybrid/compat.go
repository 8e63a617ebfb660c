package hybrid

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Dialect is the request shape a backend expects for kNN queries.
type Dialect string

const (
	// DialectTopLevel sends the kNN clause as a top-level "knn" key.
	DialectTopLevel Dialect = "top_level"
	// DialectNested sends the kNN clause inside bool.must.
	DialectNested Dialect = "nested"
)

func (d Dialect) other() Dialect {
	if d == DialectNested {
		return DialectTopLevel
	}
	return DialectNested
}

// CompatState is the process-wide view of what the backend accepts. The
// dialect changes at most once and semantic search, once disabled, stays
// disabled until restart.
type CompatState struct {
	mu       sync.RWMutex
	dialect  Dialect
	semantic bool
	switched bool
	probed   bool
	version  string
}

// CompatSnapshot is a read-only copy of CompatState for reporting.
type CompatSnapshot struct {
	Version          string  `json:"version"`
	Dialect          Dialect `json:"dialect"`
	SemanticEnabled  bool    `json:"semantic_enabled"`
	DialectSwitched  bool    `json:"dialect_switched"`
	CapabilityProbed bool    `json:"capability_probed"`
}

// NewCompatState picks the initial dialect from the server version: releases
// before 2.9 only understand the nested form.
func NewCompatState(version string, semantic bool) *CompatState {
	dialect := DialectTopLevel
	if v := parseVersion(version); len(v) > 0 && versionLess(v, []int{2, 9}) {
		dialect = DialectNested
	}
	return &CompatState{dialect: dialect, semantic: semantic, version: version}
}

func (s *CompatState) Dialect() Dialect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dialect
}

func (s *CompatState) SemanticEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.semantic
}

// SwitchDialect moves away from failed if it is still current and no switch
// has happened yet. It reports whether this call made the switch.
func (s *CompatState) SwitchDialect(failed Dialect) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.switched || s.dialect != failed {
		return false
	}
	s.dialect = failed.other()
	s.switched = true
	return true
}

// DisableSemantic turns semantic search off for the rest of the process and
// reports whether this call changed it.
func (s *CompatState) DisableSemantic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.semantic {
		return false
	}
	s.semantic = false
	return true
}

// BeginProbe returns true exactly once, for the caller that should run the
// capability probe.
func (s *CompatState) BeginProbe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probed {
		return false
	}
	s.probed = true
	return true
}

func (s *CompatState) Snapshot() CompatSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CompatSnapshot{
		Version:          s.version,
		Dialect:          s.dialect,
		SemanticEnabled:  s.semantic,
		DialectSwitched:  s.switched,
		CapabilityProbed: s.probed,
	}
}

var versionSepRe = regexp.MustCompile(`[^0-9]+`)

// parseVersion turns "2.11.1-SNAPSHOT" into [2 11 1]. Unparseable input yields nil.
func parseVersion(version string) []int {
	numeric, _, _ := strings.Cut(strings.TrimSpace(version), "-")
	var out []int
	for _, part := range versionSepRe.Split(numeric, -1) {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}

func versionLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Error text the backend returns when it does not accept the kNN shape sent.
var dialectErrorSignatures = []string{
	"Unknown key for a START_OBJECT in [knn]",
	"Unknown key for a FIELD_NAME in [knn]",
	"Failed to parse [knn]",
	"parsing_exception",
}

// IsDialectError reports whether err means the kNN clause shape was rejected.
func IsDialectError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range dialectErrorSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

var notVectorFieldRe = regexp.MustCompile(`(?i)not (a )?knn_vector`)

// IsNotVectorFieldError reports whether err means the target field is not
// mapped as a vector.
func IsNotVectorFieldError(err error) bool {
	return err != nil && notVectorFieldRe.MatchString(err.Error())
}

// LookupFieldMapping resolves a dotted field path through nested
// "properties" blocks of an index mapping.
func LookupFieldMapping(properties map[string]any, path string) map[string]any {
	current := properties
	parts := strings.Split(path, ".")
	for i, part := range parts {
		node, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		if i == len(parts)-1 {
			return node
		}
		current, ok = node["properties"].(map[string]any)
		if !ok {
			return nil
		}
	}
	return nil
}

// IsVectorMapping reports whether a field mapping declares a knn_vector.
func IsVectorMapping(mapping map[string]any) bool {
	t, _ := mapping["type"].(string)
	return t == "knn_vector"
}
