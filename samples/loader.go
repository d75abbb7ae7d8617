package samples

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"go-audionaut/debug"
	"go-audionaut/errs"
)

// decodeRequest hands encoded bytes to a decode worker. The sender must not
// touch Data afterwards.
type decodeRequest struct {
	Data  []byte
	reply chan decodeResponse
}

type decodeResponse struct {
	OK     bool
	Buffer *Buffer
	Err    error
}

// Loader fetches, decodes and caches samples by reference. Decoding runs on
// a fixed pool of worker goroutines so the caller's goroutine never blocks
// on codec work.
type Loader struct {
	fetcher  Fetcher
	log      *debug.Logger
	requests chan decodeRequest
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Buffer
}

// LoaderOptions configure a Loader
type LoaderOptions struct {
	Workers int     // decode goroutines, default 2
	Fetcher Fetcher // default &DefaultFetcher{}
	Logger  *debug.Logger
}

// NewLoader starts the decode workers
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &DefaultFetcher{}
	}
	l := &Loader{
		fetcher:  opts.Fetcher,
		log:      opts.Logger,
		requests: make(chan decodeRequest),
		done:     make(chan struct{}),
		cache:    make(map[string]*Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		l.wg.Add(1)
		go l.worker(i)
	}
	return l
}

func (l *Loader) worker(id int) {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case req := <-l.requests:
			buf, err := Decode(req.Data)
			if err != nil {
				l.log.Log("samples", "worker %d: %v", id, err)
			}
			req.reply <- decodeResponse{OK: err == nil, Buffer: buf, Err: err}
		}
	}
}

// Load returns the decoded buffer for ref. Concurrent loads of the same ref
// share one fetch and decode; successful results are cached, failures are
// not so a later call retries.
func (l *Loader) Load(ctx context.Context, ref string) (*Buffer, error) {
	if buf, ok := l.cached(ref); ok {
		return buf, nil
	}
	select {
	case <-l.done:
		return nil, errs.Unavailable("sample loader", errors.New("closed"))
	default:
	}

	ch := l.group.DoChan(ref, func() (any, error) {
		if buf, ok := l.cached(ref); ok {
			return buf, nil
		}
		// detached from any single caller so one cancellation does not
		// fail the others waiting on the same ref
		data, err := l.fetcher.Fetch(context.WithoutCancel(ctx), ref)
		if err != nil {
			if !errors.Is(err, errs.ErrDecode) {
				err = fmt.Errorf("%w: %v", errs.ErrDecode, err)
			}
			return nil, err
		}
		buf, err := l.decode(data)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[ref] = buf
		l.mu.Unlock()
		l.log.Log("samples", "loaded %s: %d frames @ %d Hz", shortRef(ref), buf.Frames(), buf.SampleRate)
		return buf, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load %s: %w", shortRef(ref), res.Err)
		}
		return res.Val.(*Buffer), nil
	}
}

func (l *Loader) decode(data []byte) (*Buffer, error) {
	reply := make(chan decodeResponse, 1)
	select {
	case l.requests <- decodeRequest{Data: data, reply: reply}:
	case <-l.done:
		return nil, errs.Unavailable("sample loader", errors.New("closed"))
	}
	select {
	case res := <-reply:
		if !res.OK {
			return nil, res.Err
		}
		return res.Buffer, nil
	case <-l.done:
		return nil, errs.Unavailable("sample loader", errors.New("closed"))
	}
}

func (l *Loader) cached(ref string) (*Buffer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	buf, ok := l.cache[ref]
	return buf, ok
}

// Evict drops ref from the cache
func (l *Loader) Evict(ref string) {
	l.mu.Lock()
	delete(l.cache, ref)
	l.mu.Unlock()
}

// Len returns the number of cached buffers
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}

// Close stops the workers. Later loads of uncached refs fail.
func (l *Loader) Close() {
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

// shortRef keeps data: URIs out of log lines
func shortRef(ref string) string {
	if len(ref) > 64 {
		return ref[:61] + "..."
	}
	return ref
}
