package storage

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultMaxNameLen is the maximum byte length of a single path segment.
	DefaultMaxNameLen = 255
	// DefaultMaxPathLen is the maximum byte length of a normalized relative path.
	DefaultMaxPathLen = 4096
)

// ResolvedPath is a user-supplied path that has been validated and
// canonicalized against a user root. It carries both the normalized relative
// form (safe to echo back to clients) and the absolute filesystem location,
// so callers never re-derive the absolute path themselves.
type ResolvedPath struct {
	rel      string // "/"-joined normalized path; empty for the root itself
	abs      string
	segments []string
}

// Rel returns the normalized relative path. Empty string means the user root.
func (p *ResolvedPath) Rel() string { return p.rel }

// Abs returns the absolute filesystem path.
func (p *ResolvedPath) Abs() string { return p.abs }

// IsRoot reports whether the path is the user root itself.
func (p *ResolvedPath) IsRoot() bool { return len(p.segments) == 0 }

// Base returns the final path segment, or "" for the root.
func (p *ResolvedPath) Base() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Resolver validates and canonicalizes user-supplied relative paths against
// a user root. It holds no state beyond length limits; the only filesystem
// access it performs is resolving existing symlink chains for the
// containment check, done per call and never cached.
type Resolver struct {
	maxNameLen int
	maxPathLen int
}

// NewResolver creates a Resolver with the given limits.
// Non-positive limits fall back to the defaults.
func NewResolver(maxNameLen, maxPathLen int) *Resolver {
	if maxNameLen <= 0 {
		maxNameLen = DefaultMaxNameLen
	}
	if maxPathLen <= 0 {
		maxPathLen = DefaultMaxPathLen
	}
	return &Resolver{maxNameLen: maxNameLen, maxPathLen: maxPathLen}
}

// Resolve validates raw against userRoot and returns its canonical form.
//
// The input is rejected with KindTraversal if it contains a ".." segment,
// is an absolute path or carries a drive prefix, or if its deepest existing
// ancestor resolves through symlinks to a location outside the user root.
// It is rejected with KindMalformed on null bytes, control characters, or
// length-limit violations. An input that normalizes to nothing (e.g. "",
// ".", "//") resolves to the user root itself.
func (r *Resolver) Resolve(userRoot, raw string) (*ResolvedPath, error) {
	const op = "resolve"

	if strings.ContainsRune(raw, 0) {
		return nil, newError(KindMalformed, op, "")
	}

	// Treat backslashes as separators so Windows-style traversal attempts
	// cannot hide inside a single segment.
	cleaned := strings.ReplaceAll(raw, `\`, "/")

	if strings.HasPrefix(cleaned, "/") {
		return nil, newError(KindTraversal, op, "")
	}

	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(cleaned, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return nil, newError(KindTraversal, op, "")
		}
		if err := r.checkSegment(op, seg); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	rel := strings.Join(segments, "/")
	if len(rel) > r.maxPathLen {
		return nil, newError(KindMalformed, op, "")
	}

	abs := filepath.Join(userRoot, filepath.FromSlash(rel))

	if err := checkRealPath(userRoot, abs); err != nil {
		return nil, err
	}

	return &ResolvedPath{rel: rel, abs: abs, segments: segments}, nil
}

// checkSegment rejects segments containing forbidden characters or exceeding
// the per-name length limit.
func (r *Resolver) checkSegment(op, seg string) error {
	if len(seg) > r.maxNameLen {
		return newError(KindMalformed, op, "")
	}
	// A drive prefix like "C:" survives segment splitting; on a Windows
	// host filepath.Join would interpret it, so reject it outright.
	if len(seg) >= 2 && seg[1] == ':' && isASCIILetter(seg[0]) {
		return newError(KindTraversal, op, "")
	}
	for _, c := range seg {
		if c < 0x20 || c == 0x7f {
			return newError(KindMalformed, op, "")
		}
	}
	return nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// checkRealPath confirms that the deepest existing ancestor of abs, with all
// symlinks resolved, is still inside (or equal to) the symlink-resolved user
// root. Lexical checks alone cannot catch a symlink planted inside the tree
// that points elsewhere.
func checkRealPath(userRoot, abs string) error {
	const op = "resolve"

	realRoot, err := filepath.EvalSymlinks(userRoot)
	if err != nil {
		if os.IsNotExist(err) {
			// Root not created yet; nothing inside it can be a symlink.
			return nil
		}
		return wrapError(KindIO, op, "", err)
	}

	// Walk up from the target until an existing path is found. Everything
	// below it does not exist yet and so cannot redirect the resolution.
	p := abs
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(filepath.Separator)) {
				return newError(KindTraversal, op, "")
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return wrapError(KindIO, op, "", err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
}
