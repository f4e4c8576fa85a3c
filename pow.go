package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/sha256-simd"
	"golang.org/x/sync/errgroup"
)

const (
	algorithmSHA256 = "sha256"

	// maxDifficulty is the digest length in bits; anything above is unsatisfiable.
	maxDifficulty = sha256.Size * 8
)

// leadingZeroBits counts zero bits from the most significant bit of digest,
// reading it as a big-endian bit string.
func leadingZeroBits(digest []byte) int {
	n := 0
	for _, b := range digest {
		if b == 0 {
			n += 8
			continue
		}
		return n + 8 - bits.Len8(b)
	}
	return n
}

// nonceHasher computes sha256(seed || decimal(nonce)) reusing one buffer and
// one hash state.
type nonceHasher struct {
	h       hash.Hash
	buf     []byte
	seedLen int
	sum     []byte
}

func newNonceHasher(seed []byte) *nonceHasher {
	buf := make([]byte, len(seed), len(seed)+20)
	copy(buf, seed)
	return &nonceHasher{
		h:       sha256.New(),
		buf:     buf,
		seedLen: len(seed),
		sum:     make([]byte, 0, sha256.Size),
	}
}

// hash returns the digest for nonce. The slice is reused by the next call.
func (p *nonceHasher) hash(nonce uint64) []byte {
	p.buf = strconv.AppendUint(p.buf[:p.seedLen], nonce, 10)
	p.h.Reset()
	p.h.Write(p.buf)
	p.sum = p.h.Sum(p.sum[:0])
	return p.sum
}

// searchOpts tunes findNonce. The zero value runs a silent sequential search.
type searchOpts struct {
	workers  int
	every    uint64
	progress func(attempts uint64)
}

// findNonce returns the smallest nonce whose digest has at least difficulty
// leading zero bits. The search is unbounded and only stops on success or
// when ctx is done.
func findNonce(ctx context.Context, seed []byte, difficulty uint, opts searchOpts) (uint64, []byte, error) {
	if difficulty > maxDifficulty {
		return 0, nil, fmt.Errorf("%w: %d exceeds %d bits", errInvalidDifficulty, difficulty, maxDifficulty)
	}
	if opts.every == 0 {
		opts.every = defaultProgressEvery
	}
	if opts.workers <= 1 {
		return searchSequential(ctx, seed, int(difficulty), opts)
	}
	return searchParallel(ctx, seed, int(difficulty), opts)
}

func searchSequential(ctx context.Context, seed []byte, difficulty int, opts searchOpts) (uint64, []byte, error) {
	h := newNonceHasher(seed)
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		default:
		}

		sum := h.hash(nonce)
		if leadingZeroBits(sum) >= difficulty {
			return nonce, bytes.Clone(sum), nil
		}

		if opts.progress != nil && (nonce+1)%opts.every == 0 {
			opts.progress(nonce + 1)
		}
		if nonce == math.MaxUint64 {
			return 0, nil, errors.New("nonce space exhausted")
		}
	}
}

// searchParallel stripes the nonce space across workers. Every worker scans
// its nonces in ascending order and stops once it passes the best hit so far,
// so the result equals the sequential one.
func searchParallel(ctx context.Context, seed []byte, difficulty int, opts searchOpts) (uint64, []byte, error) {
	stride := uint64(opts.workers)

	var (
		best       atomic.Uint64
		attempts   atomic.Uint64
		mu         sync.Mutex
		bestDigest []byte
	)
	best.Store(math.MaxUint64)

	g, gctx := errgroup.WithContext(ctx)
	for w := uint64(0); w < stride; w++ {
		start := w
		g.Go(func() error {
			h := newNonceHasher(seed)
			var local uint64
			for nonce := start; nonce < best.Load(); nonce += stride {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				sum := h.hash(nonce)
				if leadingZeroBits(sum) >= difficulty {
					mu.Lock()
					if nonce < best.Load() {
						best.Store(nonce)
						bestDigest = bytes.Clone(sum)
					}
					mu.Unlock()
					return nil
				}

				local++
				if local == opts.every {
					total := attempts.Add(local)
					local = 0
					if opts.progress != nil {
						opts.progress(total)
					}
				}
				if nonce > math.MaxUint64-stride {
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if bestDigest == nil {
		return 0, nil, errors.New("nonce space exhausted")
	}
	return best.Load(), bestDigest, nil
}

// powSolver solves challenges and reports progress through the run logger.
type powSolver struct {
	workers       int
	progressEvery uint64
	log           *logger
}

func newPowSolver(cfg appConfig, log *logger) *powSolver {
	if log == nil {
		log = nopLogger()
	}
	return &powSolver{
		workers:       cfg.Workers,
		progressEvery: cfg.ProgressEvery,
		log:           log,
	}
}

// solve finds the smallest satisfying nonce for ch.
func (s *powSolver) solve(ctx context.Context, ch Challenge) (Solution, error) {
	if !strings.EqualFold(ch.Algorithm, algorithmSHA256) {
		return Solution{}, &protocolError{
			Op:  "solve",
			Err: fmt.Errorf("%w: %q (only %q is implemented)", errUnsupportedAlgorithm, ch.Algorithm, algorithmSHA256),
		}
	}
	if ch.ExpiresAt != nil && time.Until(*ch.ExpiresAt) <= 0 {
		s.log.warnf("challenge %s already expired at %s, solving anyway", ch.ID, ch.ExpiresAt.Format(time.RFC3339))
	}

	s.log.infof("solving PoW (difficulty=%d, algorithm=%s, workers=%d)", ch.Difficulty, algorithmSHA256, max(s.workers, 1))

	start := time.Now()
	nonce, digest, err := findNonce(ctx, []byte(ch.Seed), ch.Difficulty, searchOpts{
		workers:  s.workers,
		every:    s.progressEvery,
		progress: s.progressReporter(ch.Difficulty, start),
	})
	if err != nil {
		if errors.Is(err, errInvalidDifficulty) {
			return Solution{}, &protocolError{Op: "solve", Err: err}
		}
		return Solution{}, err
	}

	digestHex := hex.EncodeToString(digest)
	s.log.okf("PoW solved: nonce=%d hash=%s… in %s", nonce, digestHex[:16], time.Since(start).Round(10*time.Millisecond))
	return Solution{ChallengeID: ch.ID, Nonce: nonce, DigestHex: digestHex}, nil
}

func (s *powSolver) progressReporter(difficulty uint, start time.Time) func(uint64) {
	return func(attempts uint64) {
		elapsed := time.Since(start)
		rate := float64(attempts) / max(elapsed.Seconds(), 1e-9)
		s.log.infof("PoW in progress: difficulty=%d attempts=%d rate=%.0f/s elapsed=%s", difficulty, attempts, rate, elapsed.Round(100*time.Millisecond))
	}
}
