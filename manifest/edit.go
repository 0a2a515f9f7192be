package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrExists is returned when adding a requirement that is already
	// declared.
	ErrExists = errors.New("requirement already exists")
	// ErrNotFound is returned when editing a requirement that is not
	// declared.
	ErrNotFound = errors.New("requirement not found")
)

// Add appends a requirement to the file. When req.Section names an
// existing comment header the line is inserted at the end of that
// section, otherwise it goes at the end of the file.
func (f *File) Add(req Requirement) error {
	if !nameRe.MatchString(req.Name) {
		return fmt.Errorf("invalid package name %q", req.Name)
	}
	if _, ok := f.find(req.Name); ok {
		return fmt.Errorf("%s: %w", req.Name, ErrExists)
	}
	for _, extra := range req.Extras {
		if !nameRe.MatchString(extra) {
			return fmt.Errorf("invalid extra %q", extra)
		}
	}
	for _, c := range req.Specifier {
		if !validOp(c.Op) {
			return fmt.Errorf("invalid operator %q", c.Op)
		}
		if !versionRe.MatchString(c.Version) {
			return fmt.Errorf("invalid version %q", c.Version)
		}
	}
	if req.Marker != "" {
		if _, err := parseMarker(req.Marker); err != nil {
			return fmt.Errorf("invalid environment marker: %v", err)
		}
	}

	at := len(f.Lines)
	if req.Section != "" {
		if i, ok := f.sectionEnd(req.Section); ok {
			at = i
		}
	}
	line := Line{Kind: LineRequirement, Raw: req.String(), Req: &req}
	f.Lines = append(f.Lines[:at], append([]Line{line}, f.Lines[at:]...)...)
	f.renumber()
	return nil
}

// SetPin replaces the version constraint of an existing requirement with
// an exact pin. Extras, marker and comment are kept.
func (f *File) SetPin(name, version string) error {
	i, ok := f.find(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if !versionRe.MatchString(version) {
		return fmt.Errorf("invalid version %q", version)
	}
	req := f.Lines[i].Req
	req.Specifier = []Comparison{{Op: "==", Version: version}}
	f.Lines[i].Raw = req.String()
	return nil
}

// Remove drops a requirement line from the file.
func (f *File) Remove(name string) error {
	i, ok := f.find(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	f.Lines = append(f.Lines[:i], f.Lines[i+1:]...)
	f.renumber()
	return nil
}

// sectionEnd locates the insertion point for a new line in the named
// section: right after its last requirement, before the next header.
func (f *File) sectionEnd(name string) (int, bool) {
	start := -1
	for i, ln := range f.Lines {
		if ln.Kind == LineComment && commentText(ln.Raw) == name {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start + 1
	for i := start + 1; i < len(f.Lines); i++ {
		if f.Lines[i].Kind == LineComment {
			break
		}
		if f.Lines[i].Kind == LineRequirement {
			end = i + 1
		}
	}
	return end, true
}

func validOp(op string) bool {
	for _, known := range specifierOps {
		if op == known {
			return true
		}
	}
	return false
}
