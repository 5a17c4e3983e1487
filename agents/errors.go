package agents

import "errors"

var (
	// ErrUnknownEntrypoint is returned by Lookup for a name missing from the dispatch table.
	ErrUnknownEntrypoint = errors.New("unknown entrypoint")

	// ErrNoRoom indicates Connect returned without a room.
	ErrNoRoom = errors.New("job has no room after connect")
)
