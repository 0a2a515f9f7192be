package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

// Comparison operators, longest first so the scanner never splits "==="
// into "==" plus garbage.
var specifierOps = []string{"===", "==", "~=", "!=", "<=", ">=", "<", ">"}

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)
	versionRe = regexp.MustCompile(`^[A-Za-z0-9._*+!-]+$`)
)

// ParseError describes a single malformed manifest line.
type ParseError struct {
	File string
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ParseErrors collects every malformed line found in one pass over a
// manifest.
type ParseErrors struct {
	Errors []*ParseError
}

func (e *ParseErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Issues converts the parse failures into lint issues.
func (e *ParseErrors) Issues() []Issue {
	issues := make([]Issue, 0, len(e.Errors))
	for _, pe := range e.Errors {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     CodeSyntax,
			Line:     pe.Line,
			Message:  pe.Msg,
		})
	}
	return issues
}

// Parse reads a pip style manifest. Blank lines and comments are kept so
// the file can be rendered back unchanged. When any line is malformed the
// returned error is a *ParseErrors listing all of them.
func Parse(name string, data []byte) (*File, error) {
	f := &File{Name: name}
	if len(data) == 0 {
		return f, nil
	}

	perrs := &ParseErrors{}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for i, raw := range lines {
		raw = strings.TrimSuffix(raw, "\r")
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "":
			f.Lines = append(f.Lines, Line{Kind: LineBlank, Raw: raw})
		case strings.HasPrefix(trimmed, "#"):
			f.Lines = append(f.Lines, Line{Kind: LineComment, Raw: raw})
		default:
			req, err := parseRequirement(raw)
			if err != nil {
				perrs.Errors = append(perrs.Errors, &ParseError{
					File: name,
					Line: i + 1,
					Text: raw,
					Msg:  err.Error(),
				})
				continue
			}
			f.Lines = append(f.Lines, Line{Kind: LineRequirement, Raw: raw, Req: req})
		}
	}
	if len(perrs.Errors) > 0 {
		return nil, perrs
	}
	f.renumber()
	return f, nil
}

// parseRequirement handles one dependency line:
//
//	name[extra1,extra2]==1.2.3,<2.0 ; python_version < "3.11"  # trailing comment
func parseRequirement(raw string) (*Requirement, error) {
	text := raw

	comment := ""
	if i := commentIndex(text); i >= 0 {
		comment = commentText(text[i:])
		text = text[:i]
	}

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "-") {
		return nil, fmt.Errorf("pip options are not supported")
	}

	marker := ""
	if i := markerIndex(text); i >= 0 {
		marker = strings.TrimSpace(text[i+1:])
		text = strings.TrimSpace(text[:i])
		if marker == "" {
			return nil, fmt.Errorf("empty environment marker")
		}
		if _, err := parseMarker(marker); err != nil {
			return nil, fmt.Errorf("invalid environment marker: %v", err)
		}
	}

	if text == "" {
		return nil, fmt.Errorf("missing requirement")
	}
	if strings.Contains(text, "@") {
		return nil, fmt.Errorf("direct references are not supported")
	}

	j := 0
	for j < len(text) && isNameChar(text[j]) {
		j++
	}
	name := text[:j]
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid package name %q", name)
	}
	req := &Requirement{Name: name, Marker: marker, Comment: comment}

	rest := strings.TrimSpace(text[j:])
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated extras list")
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			extra = strings.TrimSpace(extra)
			if !nameRe.MatchString(extra) {
				return nil, fmt.Errorf("invalid extra %q", extra)
			}
			req.Extras = append(req.Extras, extra)
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if rest != "" {
		spec, err := ParseSpecifier(rest)
		if err != nil {
			return nil, err
		}
		req.Specifier = spec
	}
	return req, nil
}

// ParseSpecifier parses a comma separated list of version clauses, such
// as ">=1.0, <2.0" or "==1.2.3".
func ParseSpecifier(s string) ([]Comparison, error) {
	var spec []Comparison
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		cmp, err := parseComparison(clause)
		if err != nil {
			return nil, err
		}
		spec = append(spec, cmp)
	}
	return spec, nil
}

func parseComparison(clause string) (Comparison, error) {
	for _, op := range specifierOps {
		if !strings.HasPrefix(clause, op) {
			continue
		}
		version := strings.TrimSpace(clause[len(op):])
		if version == "" {
			return Comparison{}, fmt.Errorf("missing version after %q", op)
		}
		if !versionRe.MatchString(version) {
			return Comparison{}, fmt.Errorf("invalid version %q", version)
		}
		return Comparison{Op: op, Version: version}, nil
	}
	return Comparison{}, fmt.Errorf("invalid version clause %q", clause)
}

// commentIndex finds the start of a trailing comment: a '#' at the start
// of the line or preceded by whitespace.
func commentIndex(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t') {
			return i
		}
	}
	return -1
}

// markerIndex finds the ';' separating the requirement from its
// environment marker, skipping quoted strings.
func markerIndex(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			return i
		}
	}
	return -1
}

func isNameChar(c byte) bool {
	return c == '.' || c == '-' || c == '_' ||
		('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
