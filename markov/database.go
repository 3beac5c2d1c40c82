package markov

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/beyondbrewing/brewery-markov/shard"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("markov: already running")
	ErrNotRunning     = errors.New("markov: not running")
)

// Database learns lines of words into a Store and generates new lines from
// it. It also runs the optional autosave loop.
type Database struct {
	cfg    *Config
	store  *Store
	logger logger.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New opens a Database with the given options applied over DefaultConfig.
// Call Start or Run before using it.
func New(opts ...Option) (*Database, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := open(cfg)
	if err != nil {
		return nil, err
	}
	return &Database{
		cfg:    cfg,
		store:  store,
		logger: store.logger,
	}, nil
}

// Store returns the underlying bigram store.
func (d *Database) Store() *Store { return d.store }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Run starts the database and blocks until ctx is cancelled, then stops and
// closes it. The database is also closed when it fails to start.
func (d *Database) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return err
		}
		return errors.Join(err, d.Close())
	}

	<-ctx.Done()

	d.logger.Info("context cancelled, shutting down")
	return d.Close()
}

// Start loads the store and launches the autosave loop when an interval is
// configured.
func (d *Database) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyRunning
	}
	if err := d.store.Load(); err != nil {
		return fmt.Errorf("markov: load database: %w", err)
	}

	if d.cfg.AutosaveInterval > 0 {
		d.stop = make(chan struct{})
		d.done = make(chan struct{})
		go d.autosave(d.cfg.AutosaveInterval, d.stop, d.done)
	}

	d.running = true
	d.logger.Info("database started",
		"backend", d.backendName(),
		"autosave", d.cfg.AutosaveInterval,
	)
	return nil
}

// Stop ends the autosave loop and saves every modified shard. The store
// stays loaded and usable.
func (d *Database) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return ErrNotRunning
	}
	d.running = false

	if d.stop != nil {
		close(d.stop)
		timer := time.NewTimer(d.cfg.ShutdownTimeout)
		select {
		case <-d.done:
			timer.Stop()
		case <-timer.C:
			d.logger.Warn("autosave did not stop in time", "timeout", d.cfg.ShutdownTimeout)
		}
		d.stop, d.done = nil, nil
	}

	if err := d.store.SaveAll(); err != nil {
		return fmt.Errorf("markov: save on stop: %w", err)
	}
	d.logger.Info("database stopped")
	return nil
}

// Close stops the database if it is running and releases the store.
func (d *Database) Close() error {
	var stopErr error
	if err := d.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		stopErr = err
	}
	return errors.Join(stopErr, d.store.Close())
}

func (d *Database) autosave(every time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := d.store.SaveAll(); err != nil {
				d.logger.Error("autosave failed", "error", err)
				continue
			}
			d.logger.Debug("autosave complete", "took", time.Since(start))
		}
	}
}

func (d *Database) backendName() string {
	if d.cfg.Backend != nil {
		return fmt.Sprintf("%T", d.cfg.Backend)
	}
	return d.cfg.BackendKind
}

// ---------------------------------------------------------------------------
// Lines
// ---------------------------------------------------------------------------

// Tokenize splits a line on white space.
func Tokenize(line string) []string {
	return strings.Fields(line)
}

// sanitize rewrites the reserved tokens so user input can never collide
// with them.
func sanitize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, shard.StartToken, "start")
		w = strings.ReplaceAll(w, shard.EndToken, "end")
		if w == "" {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Transitions returns the transitions a line contributes, in order. The
// line is framed by the start and end tokens, so a line of n words yields
// n transitions and the first one lives in the start shard.
func Transitions(words []string) []Transition {
	words = sanitize(words)
	if len(words) == 0 {
		return nil
	}

	seq := make([]string, 0, len(words)+2)
	seq = append(seq, shard.StartToken)
	seq = append(seq, words...)
	seq = append(seq, shard.EndToken)

	out := make([]Transition, 0, len(words))
	for i := 0; i+2 < len(seq); i++ {
		out = append(out, Transition{
			Bigram: Bigram{Word1: seq[i], Word2: seq[i+1]},
			Word:   seq[i+2],
		})
	}
	return out
}

// ProcessLine learns every transition of a line. An empty line is ignored.
func (d *Database) ProcessLine(words []string) error {
	for _, t := range Transitions(words) {
		if err := d.store.Add(t.Bigram, t.Word); err != nil {
			return err
		}
	}
	return nil
}

// ContainsLine reports whether every transition of the line is recorded at
// least as often as the line uses it.
func (d *Database) ContainsLine(words []string) (bool, error) {
	ts := Transitions(words)
	if len(ts) == 0 {
		return false, nil
	}

	counts := make(map[Transition]int, len(ts))
	for _, t := range ts {
		counts[t]++
	}
	for t, n := range counts {
		ok, err := d.store.Contains(t.Bigram, t.Word, n)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// RemoveLine unlearns a line. It returns false and changes nothing when the
// line is not fully contained.
func (d *Database) RemoveLine(words []string) (bool, error) {
	ts := Transitions(words)
	if len(ts) == 0 {
		return false, nil
	}
	return d.store.RemoveLineTransaction(ts)
}

// GenerateLine walks the chain from a random start word until the end token
// or the configured word limit. It returns ErrEmpty when nothing has been
// learned.
func (d *Database) GenerateLine() ([]string, error) {
	first, err := d.store.RandomStartWord()
	if err != nil {
		return nil, err
	}
	return d.walk([]string{first}, shard.StartBigram(first))
}

// GenerateLineFrom generates a line that starts with first. It returns
// ErrNotFound when no learned line starts with that word.
func (d *Database) GenerateLineFrom(first string) ([]string, error) {
	next, err := d.store.RandomSuccessor(shard.StartBigram(first))
	if err != nil {
		return nil, err
	}
	if next == shard.EndToken {
		return []string{first}, nil
	}
	return d.walk([]string{first, next}, Bigram{Word1: first, Word2: next})
}

func (d *Database) walk(line []string, b Bigram) ([]string, error) {
	for len(line) < d.cfg.MaxWordsPerLine {
		next, err := d.store.RandomSuccessor(b)
		if errors.Is(err, ErrNotFound) {
			// A dead end means a shard lost its entry; terminate the bigram
			// so later walks end here cleanly.
			d.logger.Warn("bigram has no successors, recording end", "bigram", b.String())
			if err := d.store.Add(b, shard.EndToken); err != nil {
				return nil, err
			}
			break
		}
		if err != nil {
			return nil, err
		}
		if next == shard.EndToken {
			break
		}
		line = append(line, next)
		b = Bigram{Word1: b.Word2, Word2: next}
	}
	return line, nil
}
