// Package autosave coalesces rapid edits per key into one delayed save.
package autosave

import (
	"context"
	"sync"
	"time"

	"peertutor/api/internal/logger"
)

// defaultSaveTimeout bounds a save started by the timer, which has no caller
// context of its own.
const defaultSaveTimeout = 15 * time.Second

// SaveFunc persists the latest value for key.
type SaveFunc[T any] func(ctx context.Context, key string, value T) error

type pending[T any] struct {
	value T
	timer *time.Timer
	gen   uint64
}

// Debouncer keeps the latest value per key and saves it once the key has been
// quiet for the configured delay. Saves for one key never run concurrently.
type Debouncer[T any] struct {
	delay   time.Duration
	timeout time.Duration
	save    SaveFunc[T]
	log     *logger.Logger

	mu      sync.Mutex
	pending map[string]*pending[T]
	locks   map[string]*sync.Mutex
	saved   map[string]uint64
	gen     uint64
	stopped bool
	wg      sync.WaitGroup
}

func New[T any](delay time.Duration, save SaveFunc[T], log *logger.Logger) *Debouncer[T] {
	if log == nil {
		log = logger.Nop()
	}
	return &Debouncer[T]{
		delay:   delay,
		timeout: defaultSaveTimeout,
		save:    save,
		log:     log.With("component", "Autosave"),
		pending: make(map[string]*pending[T]),
		locks:   make(map[string]*sync.Mutex),
		saved:   make(map[string]uint64),
	}
}

// SetSaveTimeout changes the bound on timer-driven saves. Call it before the
// first Schedule.
func (d *Debouncer[T]) SetSaveTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Schedule replaces the pending value for key and restarts its timer.
// It reports false once the debouncer has been stopped.
func (d *Debouncer[T]) Schedule(key string, value T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.gen++
	gen := d.gen
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		p.value = value
		p.gen = gen
		p.timer = time.AfterFunc(d.delay, func() { d.fire(key, gen) })
		return true
	}
	d.pending[key] = &pending[T]{
		value: value,
		gen:   gen,
		timer: time.AfterFunc(d.delay, func() { d.fire(key, gen) }),
	}
	return true
}

// Pending reports whether key has an unsaved value.
func (d *Debouncer[T]) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Discard drops the pending value for key without saving it.
func (d *Debouncer[T]) Discard(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

func (d *Debouncer[T]) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.run(ctx, key, p.gen, d.saveValue(key, p.value)); err != nil {
		d.log.Warn("autosave failed", "key", key, "error", err)
	}
}

// SaveNow runs write as the newest save for key: the pending value is dropped,
// write waits for an in-flight save of key to finish, and older saves that have
// not started yet are skipped afterwards.
func (d *Debouncer[T]) SaveNow(ctx context.Context, key string, write func(ctx context.Context) error) error {
	d.mu.Lock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.gen++
	gen := d.gen
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()
	return d.run(ctx, key, gen, write)
}

// Flush saves the pending value for key now. It returns false when nothing was
// pending. A failed save leaves the value pending so the flush can be retried.
func (d *Debouncer[T]) Flush(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
		d.wg.Add(1)
	}
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	defer d.wg.Done()
	if err := d.run(ctx, key, p.gen, d.saveValue(key, p.value)); err != nil {
		d.restore(key, p)
		return true, err
	}
	return true, nil
}

// restore puts p back as the pending value unless something newer has been
// scheduled or saved since.
func (d *Debouncer[T]) restore(key string, p *pending[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[key]; ok || p.gen <= d.saved[key] {
		return
	}
	gen := p.gen
	p.timer = time.AfterFunc(d.delay, func() { d.fire(key, gen) })
	if d.stopped {
		p.timer.Stop()
	}
	d.pending[key] = p
}

// FlushAll saves every pending value and returns the first error.
func (d *Debouncer[T]) FlushAll(ctx context.Context) error {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	d.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		if _, err := d.Flush(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop rejects new schedules, flushes what is pending and waits for in-flight saves.
func (d *Debouncer[T]) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	err := d.FlushAll(ctx)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (d *Debouncer[T]) saveValue(key string, value T) func(context.Context) error {
	return func(ctx context.Context) error { return d.save(ctx, key, value) }
}

// run calls write unless a newer generation for key has already been saved.
// Writes for one key are serialised.
func (d *Debouncer[T]) run(ctx context.Context, key string, gen uint64, write func(context.Context) error) error {
	lock := d.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	d.mu.Lock()
	stale := gen <= d.saved[key]
	d.mu.Unlock()
	if stale {
		return nil
	}
	if err := write(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.saved[key] = gen
	d.mu.Unlock()
	return nil
}

func (d *Debouncer[T]) keyLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}
