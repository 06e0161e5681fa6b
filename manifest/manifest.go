package manifest

import (
	"bufio"
	"context"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// Entry is one merge group from a manifest: a logical output name followed by
// the glob patterns naming its inputs.
type Entry struct {
	Name     string
	Patterns []string
}

// Read parses the manifest at path, top to bottom. Tokens are whitespace
// delimited; blank lines and lines whose first token starts with '#' are
// dropped. No validation beyond tokenization happens here: an entry with no
// patterns is returned as-is.
func Read(ctx context.Context, path string) ([]Entry, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", path)
	}
	var entries []Entry
	scanner := bufio.NewScanner(in.Reader(ctx))
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
			continue
		}
		entries = append(entries, Entry{Name: tokens[0], Patterns: tokens[1:]})
	}
	err = scanner.Err()
	if e := in.Close(ctx); err == nil {
		err = e
	}
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", path)
	}
	return entries, nil
}

// Expand resolves the entry's glob patterns against the local filesystem,
// concatenating matches in pattern order. A pattern that matches nothing
// contributes nothing; only a malformed pattern is an error.
func (e Entry) Expand() ([]string, error) {
	var sources []string
	for _, pattern := range e.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: bad pattern %q", e.Name, pattern)
		}
		sources = append(sources, matches...)
	}
	return sources, nil
}
