// Package jail maps client-visible FTP paths onto a server directory tree
// and guarantees that no resolved path leaves that tree.
//
// Client paths are rooted at a virtual "/". A path starting with "/" is
// resolved from the root, anything else from the current working directory.
// Two resolution flavours exist:
//
//   - ResolveNew joins textually and does not require the target to exist.
//     It is meant for targets that are about to be created (STOR, MKD, RNTO).
//   - ResolveExisting additionally canonicalizes the result against the real
//     filesystem, following symlinks, and re-checks containment.
//
// A Resolver is owned by exactly one session and is not safe for concurrent
// use.
package jail

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidPath is returned when a path cannot be expressed inside the
	// root, e.g. it climbs above "/" with ".." segments.
	ErrInvalidPath = fmt.Errorf("invalid path: %w", os.ErrInvalid)

	// ErrOutsideRoot is returned when a canonical path falls outside the root.
	ErrOutsideRoot = fmt.Errorf("path is outside of the root directory: %w", os.ErrPermission)
)

// Resolver converts between client paths and absolute server paths.
type Resolver struct {
	root string
	cwd  string
}

// New returns a Resolver rooted at root with the working directory set to
// the root itself. The root must exist and be a directory; it is stored in
// canonical form so later prefix checks compare like with like.
func New(root string) (*Resolver, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	return &Resolver{root: canonical, cwd: canonical}, nil
}

// Root returns the canonical root directory.
func (r *Resolver) Root() string {
	return r.root
}

// ResolveNew returns the absolute server path for clientPath without
// requiring it to exist.
//
// If the parent directory of the result exists, it is canonicalized and must
// still be inside the root; this stops a symlinked directory from redirecting
// a new file outside the tree.
func (r *Resolver) ResolveNew(clientPath string) (string, error) {
	p, err := r.join(clientPath)
	if err != nil {
		return "", err
	}
	if p == r.root {
		return p, nil
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(p))
	switch {
	case err == nil:
		if !r.contains(parent) {
			return "", ErrOutsideRoot
		}
		p = filepath.Join(parent, filepath.Base(p))
	case errors.Is(err, os.ErrNotExist):
		return p, nil
	default:
		return "", err
	}

	// An existing symlink in the final position would be followed by a
	// create; its target has to be inside the root too.
	if info, err := os.Lstat(p); err == nil && info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(p)
		if err != nil || !r.contains(target) {
			return "", ErrOutsideRoot
		}
	}
	return p, nil
}

// ResolveExisting returns the canonical absolute server path for clientPath.
// The target must exist.
//
// Every path that leaves the root, lexically or through a symlink, fails
// with ErrOutsideRoot whether or not its target exists, so callers cannot
// learn anything about the tree outside the root.
func (r *Resolver) ResolveExisting(clientPath string) (string, error) {
	p, err := r.join(clientPath)
	if err != nil {
		return "", ErrOutsideRoot
	}

	canonical, err := filepath.EvalSymlinks(p)
	if err != nil {
		if r.escapes(p) {
			return "", ErrOutsideRoot
		}
		return "", err
	}
	if !filepath.IsAbs(canonical) {
		return "", ErrInvalidPath
	}
	if !r.contains(canonical) {
		return "", ErrOutsideRoot
	}
	return canonical, nil
}

// escapes reports whether the deepest existing ancestor of p, which must
// lie lexically inside the root, canonicalizes to a place outside it.
func (r *Resolver) escapes(p string) bool {
	for dir := filepath.Dir(p); r.contains(dir); dir = filepath.Dir(dir) {
		canonical, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return !r.contains(canonical)
		}
		if dir == r.root {
			break
		}
	}
	return false
}

// ChangeDir makes clientPath the new working directory. The working
// directory is left untouched on any failure.
func (r *Resolver) ChangeDir(clientPath string) error {
	p, err := r.ResolveExisting(clientPath)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(p) {
		return ErrInvalidPath
	}
	if !r.contains(p) {
		return ErrOutsideRoot
	}

	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "chdir", Path: clientPath, Err: errors.New("not a directory")}
	}

	r.cwd = p
	return nil
}

// CurrentDir returns the working directory as a client path.
func (r *Resolver) CurrentDir() string {
	return r.ClientPath(r.cwd)
}

// ClientPath maps an absolute server path inside the root back to the
// client's view. Paths outside the root are returned unchanged.
func (r *Resolver) ClientPath(serverPath string) string {
	rel, err := filepath.Rel(r.root, serverPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return serverPath
	}
	if rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

// split picks the base directory for clientPath and returns it together
// with the remainder made relative.
func (r *Resolver) split(clientPath string) (base, rel string) {
	base = r.cwd
	if strings.HasPrefix(clientPath, "/") {
		base = r.root
	}
	rel = strings.TrimLeft(filepath.FromSlash(clientPath), string(filepath.Separator))
	return base, rel
}

// join performs the textual resolution and rejects anything that climbs
// above the root.
func (r *Resolver) join(clientPath string) (string, error) {
	base, rel := r.split(clientPath)

	// Work relative to the root so ".." is caught before touching disk.
	baseRel, err := filepath.Rel(r.root, base)
	if err != nil {
		return "", ErrInvalidPath
	}
	joined := filepath.Clean(filepath.Join(baseRel, rel))
	if joined == ".." || strings.HasPrefix(joined, ".."+string(filepath.Separator)) || filepath.IsAbs(joined) {
		return "", ErrInvalidPath
	}
	return filepath.Join(r.root, joined), nil
}

// contains reports whether p is the root or a descendant of it.
func (r *Resolver) contains(p string) bool {
	if p == r.root {
		return true
	}
	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
