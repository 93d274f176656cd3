// Package security validates user-supplied paths before the converter
// writes anything.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// canonical returns the absolute, symlink-resolved form of path. For a
// path that does not exist yet, the deepest existing parent is resolved
// and the remainder appended, so a symlinked parent cannot hide where a new
// file will land.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	check := abs
	for {
		parent := filepath.Dir(check)
		if parent == check {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rel), nil
		}
		check = parent
	}
}

// IsWithin reports whether path is dir or lies below it, after resolving
// symlinks.
func IsWithin(path, dir string) (bool, error) {
	p, err := canonical(path)
	if err != nil {
		return false, err
	}
	d, err := canonical(dir)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false, nil
	}
	escapes := rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
	return !escapes, nil
}

// CheckSaveDir rejects an output directory that is the dataroot, lies inside
// it, or contains it. Conversions write and rename files under save_dir and
// must never touch the source dataset.
func CheckSaveDir(saveDir, dataroot string) error {
	inside, err := IsWithin(saveDir, dataroot)
	if err != nil {
		return err
	}
	if inside {
		return fmt.Errorf("save_dir %s is inside dataroot %s", saveDir, dataroot)
	}
	contains, err := IsWithin(dataroot, saveDir)
	if err != nil {
		return err
	}
	if contains {
		return fmt.Errorf("dataroot %s is inside save_dir %s", dataroot, saveDir)
	}
	return nil
}

// SanitizeFilename makes a safe filename from an arbitrary string. It replaces
// any characters that are not ASCII letters, digits, dot, underscore or dash
// with an underscore, collapses repeats and trims the result to 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
