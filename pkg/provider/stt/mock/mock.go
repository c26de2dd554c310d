// Package mock provides a test double for the stt.Engine interface.
//
// Use Engine to script recognition results and inspect the sample buffers
// and prompts that were submitted:
//
//	eng := &mock.Engine{Results: []string{"hello world"}}
//	text, _ := eng.Recognize(ctx, samples, stt.RecognizeRequest{})
//	calls := eng.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Engine.Recognize.
type RecognizeCall struct {
	// Samples is a copy of the PCM buffer passed to Recognize.
	Samples []float32

	// Req is the request passed to Recognize.
	Req stt.RecognizeRequest
}

// Engine is a mock implementation of stt.Engine.
type Engine struct {
	mu sync.Mutex

	// Results is consumed one entry per Recognize call; once exhausted,
	// Recognize returns Result (or "" if unset).
	Results []string

	// Result is the fallback text returned when Results is exhausted.
	Result string

	// Err, if non-nil, is returned by every Recognize call.
	Err error

	calls []RecognizeCall
}

// Ensure Engine implements stt.Engine at compile time.
var _ stt.Engine = (*Engine)(nil)

// Recognize records the call and returns the next scripted result.
func (e *Engine) Recognize(_ context.Context, samples []float32, req stt.RecognizeRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make([]float32, len(samples))
	copy(cp, samples)
	e.calls = append(e.calls, RecognizeCall{Samples: cp, Req: req})

	if e.Err != nil {
		return "", e.Err
	}
	if len(e.Results) > 0 {
		text := e.Results[0]
		e.Results = e.Results[1:]
		return text, nil
	}
	return e.Result, nil
}

// Calls returns a copy of all recorded Recognize calls. Thread-safe.
func (e *Engine) Calls() []RecognizeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RecognizeCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}
