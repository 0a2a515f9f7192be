package manifest

import "fmt"

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue codes.
const (
	CodeSyntax            = "syntax"
	CodeDuplicate         = "duplicate-requirement"
	CodeUnpinned          = "unpinned"
	CodeLoosePin          = "loose-pin"
	CodeUnknownMarkerVar  = "unknown-marker-variable"
	CodeArbitraryEquality = "arbitrary-equality"
)

// Issue is a single finding from linting a manifest.
type Issue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Line     int    `json:"line,omitempty"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message"`
}

// Lint checks a parsed manifest for problems beyond syntax: duplicate
// declarations, requirements without an exact pin and markers that
// reference unknown variables.
func Lint(f *File) []Issue {
	var issues []Issue
	seen := map[string]int{}
	for _, req := range f.Requirements() {
		canonical := req.Canonical()
		if first, ok := seen[canonical]; ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     CodeDuplicate,
				Line:     req.Line,
				Name:     req.Name,
				Message:  fmt.Sprintf("%s already declared on line %d", req.Name, first),
			})
		} else {
			seen[canonical] = req.Line
		}

		if _, pinned := req.Pinned(); !pinned {
			if len(req.Specifier) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Code:     CodeUnpinned,
					Line:     req.Line,
					Name:     req.Name,
					Message:  fmt.Sprintf("%s has no version pin", req.Name),
				})
			} else {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Code:     CodeLoosePin,
					Line:     req.Line,
					Name:     req.Name,
					Message:  fmt.Sprintf("%s is not pinned to an exact version (%s)", req.Name, req.SpecifierString()),
				})
			}
		}

		if len(req.Specifier) == 1 && req.Specifier[0].Op == "===" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Code:     CodeArbitraryEquality,
				Line:     req.Line,
				Name:     req.Name,
				Message:  fmt.Sprintf("%s uses arbitrary equality, prefer ==", req.Name),
			})
		}

		if req.Marker != "" {
			for _, v := range markerVariables(req.Marker) {
				if !knownMarkerVar(v) {
					issues = append(issues, Issue{
						Severity: SeverityError,
						Code:     CodeUnknownMarkerVar,
						Line:     req.Line,
						Name:     req.Name,
						Message:  fmt.Sprintf("unknown marker variable %q", v),
					})
				}
			}
		}
	}
	return issues
}

// HasErrors reports whether any issue has severity error.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}
