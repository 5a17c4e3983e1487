package agents

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

// EntrypointFunc runs one job. ctx is the job's context and is cancelled when
// the job shuts down.
type EntrypointFunc func(ctx context.Context, jc *job.Context) error

// DefaultEntrypoint is dispatched when no entrypoint is configured.
const DefaultEntrypoint = "presence"

// Entrypoints returns the dispatch table handed to the worker. The dialogue
// entry runs p.
func Entrypoints(p Pipeline) map[string]EntrypointFunc {
	return map[string]EntrypointFunc{
		"presence": Presence,
		"dialogue": NewDialogue(p),
	}
}

// Lookup returns the entrypoint registered under name, or DefaultEntrypoint when name is empty.
func Lookup(table map[string]EntrypointFunc, name string) (EntrypointFunc, error) {
	if name == "" {
		name = DefaultEntrypoint
	}
	fn, ok := table[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownEntrypoint, name, slices.Sorted(maps.Keys(table)))
	}
	return fn, nil
}
