// Package words supplies the secret words assigned to artists.
package words

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"

	"github.com/wfunc/griffonary/gameerr"
)

// Source returns a random word, avoiding excludeRecent when it can.
type Source interface {
	Next(ctx context.Context, excludeRecent map[string]struct{}) (string, error)
}

// ListSource picks uniformly from a fixed word list.
type ListSource struct {
	words []string
	mu    sync.Mutex
	rng   *rand.Rand
}

func NewListSource(words []string, seed int64) *ListSource {
	cleaned := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(w)]; dup {
			continue
		}
		seen[strings.ToLower(w)] = struct{}{}
		cleaned = append(cleaned, w)
	}
	return &ListSource{
		words: cleaned,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Load reads one word per line.
func Load(r io.Reader, seed int64) (*ListSource, error) {
	var list []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		list = append(list, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return NewListSource(list, seed), nil
}

func (s *ListSource) Len() int {
	return len(s.words)
}

func (s *ListSource) Next(ctx context.Context, excludeRecent map[string]struct{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.words) == 0 {
		return "", fmt.Errorf("word list: %w", gameerr.ErrNotFound)
	}

	candidates := s.words
	if len(excludeRecent) > 0 {
		fresh := make([]string, 0, len(s.words))
		for _, w := range s.words {
			if _, recent := excludeRecent[w]; !recent {
				fresh = append(fresh, w)
			}
		}
		if len(fresh) > 0 {
			candidates = fresh
		}
	}

	s.mu.Lock()
	i := s.rng.Intn(len(candidates))
	s.mu.Unlock()
	return candidates[i], nil
}
