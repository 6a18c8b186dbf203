// Package ratelimit throttles data-connection transfers with a token bucket.
//
// A Limiter may be shared: the server keeps one global limiter for all
// sessions and each session may add its own on top. Readers and writers
// accept several limiters and wait on all of them, so the most restrictive
// one wins.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// chunkSize caps how much a single Read or Write asks the bucket for.
// Smaller chunks keep the observed rate close to the configured one.
const chunkSize = 32 * 1024

// Limiter limits throughput to a fixed number of bytes per second.
// A nil *Limiter means unlimited.
type Limiter struct {
	lim *rate.Limiter
}

// New returns a limiter for bytesPerSecond, or nil if bytesPerSecond <= 0.
// The bucket holds one second worth of data, so short bursts are allowed.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))}
}

// Limit returns the configured rate in bytes per second.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// wait blocks until n bytes may pass or ctx is done.
func (l *Limiter) wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.lim.WaitN(ctx, n)
}

// maxChunk returns the largest request the bucket can grant at once.
func (l *Limiter) maxChunk() int {
	if l == nil {
		return chunkSize
	}
	return min(chunkSize, l.lim.Burst())
}

func compact(limiters []*Limiter) []*Limiter {
	out := limiters[:0:0]
	for _, l := range limiters {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func chunk(limiters []*Limiter, n int) int {
	for _, l := range limiters {
		n = min(n, l.maxChunk())
	}
	return n
}

func waitAll(ctx context.Context, limiters []*Limiter, n int) error {
	for _, l := range limiters {
		if err := l.wait(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

type reader struct {
	ctx      context.Context
	r        io.Reader
	limiters []*Limiter
}

// NewReader wraps r so reads are throttled by every non-nil limiter.
// If none is set, r is returned unchanged.
func NewReader(ctx context.Context, r io.Reader, limiters ...*Limiter) io.Reader {
	limiters = compact(limiters)
	if len(limiters) == 0 {
		return r
	}
	return &reader{ctx: ctx, r: r, limiters: limiters}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := chunk(r.limiters, len(p))
	if err := waitAll(r.ctx, r.limiters, n); err != nil {
		return 0, err
	}
	return r.r.Read(p[:n])
}

type writer struct {
	ctx      context.Context
	w        io.Writer
	limiters []*Limiter
}

// NewWriter wraps w so writes are throttled by every non-nil limiter.
// If none is set, w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiters ...*Limiter) io.Writer {
	limiters = compact(limiters)
	if len(limiters) == 0 {
		return w
	}
	return &writer{ctx: ctx, w: w, limiters: limiters}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := chunk(w.limiters, len(p)-written)
		if err := waitAll(w.ctx, w.limiters, n); err != nil {
			return written, err
		}
		m, err := w.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
