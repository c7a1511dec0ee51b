// Package catalog enumerates the files a server exposes.
//
// The root is walked recursively in lexical order and every regular file is
// published under its base name. The namespace is flat: when two files in
// different directories share a base name the first one walked wins.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"filexfer/wire"
)

// ErrNotFound is returned by Lookup when no listed file has the given name.
var ErrNotFound = errors.New("file not found")

var errStopWalk = errors.New("stop walk")

// Catalog lists the regular files under a root directory.
type Catalog struct {
	root   string
	strict bool
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithStrict makes any skipped entry fail the whole scan.
func WithStrict(strict bool) Option {
	return func(c *Catalog) {
		c.strict = strict
	}
}

// New creates a catalog rooted at root.
func New(root string, opts ...Option) *Catalog {
	c := &Catalog{root: root}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the directory the catalog walks.
func (c *Catalog) Root() string {
	return c.root
}

// Scan is the result of one walk of the root.
type Scan struct {
	Entries []wire.FileEntry
	// Skipped collects the reason for every entry left out of the listing.
	// It is nil when nothing was skipped.
	Skipped error
}

// Scan walks the root and returns every publishable file. Entries that
// cannot be read, cannot be framed on the wire, or duplicate an earlier name
// are reported in Scan.Skipped. In strict mode they fail the scan instead.
func (c *Catalog) Scan() (*Scan, error) {
	scan := &Scan{}
	merr, err := c.walk(func(entry wire.FileEntry, _ string) bool {
		scan.Entries = append(scan.Entries, entry)
		return true
	})
	if err != nil {
		return nil, err
	}
	if skipped := merr.ErrorOrNil(); skipped != nil {
		if c.strict {
			return nil, fmt.Errorf("catalog %s: %w", c.root, skipped)
		}
		scan.Skipped = skipped
	}
	return scan, nil
}

// Entries returns the listing, discarding the skip report.
func (c *Catalog) Entries() ([]wire.FileEntry, error) {
	scan, err := c.Scan()
	if err != nil {
		return nil, err
	}
	return scan.Entries, nil
}

// Lookup resolves a listed name to its path and size using the same rules
// as Scan, so a name always resolves to the file the listing described.
func (c *Catalog) Lookup(name string) (string, int64, error) {
	if err := wire.ValidateName(name); err != nil {
		return "", 0, err
	}

	var (
		foundPath string
		foundSize int64
		found     bool
	)
	_, err := c.walk(func(entry wire.FileEntry, path string) bool {
		if entry.Name != name {
			return true
		}
		foundPath, foundSize, found = path, int64(entry.Size), true
		return false
	})
	if err != nil {
		return "", 0, err
	}
	if !found {
		return "", 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return foundPath, foundSize, nil
}

// walk calls visit for every publishable file until visit returns false.
func (c *Catalog) walk(visit func(entry wire.FileEntry, path string) bool) (*multierror.Error, error) {
	var skipped *multierror.Error
	seen := make(map[string]string)

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == c.root {
				return err
			}
			skipped = multierror.Append(skipped, fmt.Errorf("%s: %w", path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		// Stat follows symlinks, so a link to a regular file is published
		info, err := os.Stat(path)
		if err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		name := d.Name()
		if err := wire.ValidateName(name); err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		if first, dup := seen[name]; dup {
			skipped = multierror.Append(skipped, fmt.Errorf("%s: duplicate name, already listed from %s", path, first))
			return nil
		}
		seen[name] = path

		if !visit(wire.FileEntry{Name: name, Size: uint64(info.Size())}, path) {
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, fmt.Errorf("failed to walk %s: %w", c.root, err)
	}

	return skipped, nil
}
