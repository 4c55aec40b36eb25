package orchestrator

import (
	"context"
	"strings"

	"github.com/vietddude/w3bpay/internal/core/keylock"
)

// Sequencer grants exclusive use of a source address. Only one
// transaction per address is in flight at a time so nonces never collide.
type Sequencer interface {
	Acquire(ctx context.Context, address string) (release func(), err error)
}

// LocalSequencer serialises submissions within this process.
type LocalSequencer struct {
	locks *keylock.Map
}

func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{locks: keylock.New()}
}

func (s *LocalSequencer) Acquire(ctx context.Context, address string) (func(), error) {
	return s.locks.Lock(ctx, strings.ToLower(address))
}

// ChainedSequencer acquires every sequencer in order and releases in reverse.
// Put the local one first so a replica queues in memory before touching redis.
type ChainedSequencer []Sequencer

func (c ChainedSequencer) Acquire(ctx context.Context, address string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, s := range c {
		release, err := s.Acquire(ctx, address)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
