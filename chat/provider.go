package chat

import (
	"context"
	"iter"
)

// Provider streams an assistant reply for prompt given the prior history.
// The returned sequence is lazy, finite and may be ranged over only once.
type Provider interface {
	Stream(ctx context.Context, history []Message, prompt string) iter.Seq2[Chunk, error]
	Name() string
}

// dedupeSources drops entries with an empty or repeated URL.
func dedupeSources(in []Source) []Source {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	var out []Source
	for _, s := range in {
		if s.URL == "" {
			continue
		}
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		if s.Title == "" {
			s.Title = s.URL
		}
		out = append(out, s)
	}
	return out
}
