// Package wordlist resolves named seed lists for word-list and db-list
// searches: plain text files for the former, previously recorded result
// databases for the latter.
package wordlist

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
)

// Resolver loads seed lists from a directory. Word lists are "{id}.txt"
// files with one seed per line; db lists are "{id}.db" result stores
// whose recorded seeds are replayed against new criteria.
type Resolver struct {
	dir string
}

// NewResolver creates a resolver rooted at dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the seed list identified by id for the given mode.
func (r *Resolver) Resolve(ctx context.Context, mode criteria.Mode, id string) ([]string, error) {
	switch mode {
	case criteria.ModeWordList:
		return r.readTextList(id)
	case criteria.ModeDBList:
		return r.readDBList(ctx, id)
	default:
		return nil, fmt.Errorf("mode %s does not use a seed list", mode)
	}
}

// readTextList reads one seed per line. Blank lines and #-comments are
// skipped; surrounding whitespace is trimmed.
func (r *Resolver) readTextList(id string) ([]string, error) {
	path := filepath.Join(r.dir, id+".txt")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list %s: %w", id, err)
	}
	defer f.Close()

	var seeds []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		seeds = append(seeds, line)
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read word list %s: %w", id, err)
	}

	if len(seeds) == 0 {
		return nil, fmt.Errorf("word list %s is empty", id)
	}

	return seeds, nil
}

func (r *Resolver) readDBList(ctx context.Context, id string) ([]string, error) {
	path := filepath.Join(r.dir, id+".db")

	store, err := results.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open db list %s: %w", id, err)
	}
	defer store.Close()

	seeds, err := store.Seeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("read db list %s: %w", id, err)
	}

	if len(seeds) == 0 {
		return nil, fmt.Errorf("db list %s is empty", id)
	}

	return seeds, nil
}
