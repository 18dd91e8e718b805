package isolation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
)

// Strategy proposes candidate resource paths, relative to root, for a phase.
type Strategy interface {
	Candidates(ctx context.Context, root string) ([]string, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, root string) ([]string, error)

// Candidates implements Strategy.
func (f StrategyFunc) Candidates(ctx context.Context, root string) ([]string, error) {
	return f(ctx, root)
}

// GlobStrategy matches filepath.Glob patterns under root.
type GlobStrategy struct {
	Patterns []string
}

// Candidates implements Strategy.
func (g GlobStrategy) Candidates(ctx context.Context, root string) ([]string, error) {
	var out []string
	for _, pattern := range g.Patterns {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return out, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if rel, err := filepath.Rel(root, m); err == nil {
				out = append(out, rel)
			}
		}
	}
	return out, nil
}

// GitStrategy lists files the work tree reports as changed or untracked.
type GitStrategy struct{}

// Candidates implements Strategy.
func (GitStrategy) Candidates(ctx context.Context, root string) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}

	top := wt.Filesystem.Root()
	out := make([]string, 0, len(status))
	for path, fs := range status {
		if fs.Worktree == git.Deleted || fs.Staging == git.Deleted {
			continue
		}
		abs := filepath.Join(top, filepath.FromSlash(path))
		if rel, err := filepath.Rel(root, abs); err == nil {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Chain returns the first non-empty candidate list. Strategy errors are
// skipped so a non-repository root falls through to the next strategy.
type Chain []Strategy

// Candidates implements Strategy.
func (c Chain) Candidates(ctx context.Context, root string) ([]string, error) {
	var lastErr error
	for _, s := range c {
		out, err := s.Candidates(ctx, root)
		if err != nil {
			lastErr = err
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, lastErr
}

var docPatterns = []string{"README*", "*.md", "docs/*.md", "docs/**/*.md"}

// DefaultStrategies maps each known phase to its discovery strategy.
// Analysis and planning read documentation; design adds specs and schemas;
// code phases start from the files the work tree has touched.
func DefaultStrategies() map[string]Strategy {
	docs := GlobStrategy{Patterns: docPatterns}
	code := GlobStrategy{Patterns: []string{"go.mod", "package.json", "cmd/*", "internal/*", "src/*"}}
	tests := GlobStrategy{Patterns: []string{"*_test.go", "*/*_test.go", "test/*", "tests/*"}}

	return map[string]Strategy{
		"analysis":       docs,
		"planning":       docs,
		"design":         GlobStrategy{Patterns: append([]string{"*.proto", "api/*", "schemas/*", "docs/design*"}, docPatterns...)},
		"implementation": Chain{GitStrategy{}, code},
		"testing":        Chain{GitStrategy{}, tests},
		"refactoring":    Chain{GitStrategy{}, code},
	}
}
