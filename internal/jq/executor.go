// Package jq evaluates jq expressions against decoded JSON documents.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

const (
	DefaultTimeout      = time.Second
	DefaultMaxInputSize = 10 << 20
)

// Executor evaluates jq expressions with a time and input size limit.
// Compiled programs are cached by expression text, so one Executor should
// be shared by every trigger of a piece.
type Executor struct {
	timeout      time.Duration
	maxInputSize int

	programs sync.Map // expression -> *gojq.Code
}

// NewExecutor returns an Executor. Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	e := &Executor{timeout: timeout, maxInputSize: int(maxInputSize)}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.maxInputSize <= 0 {
		e.maxInputSize = DefaultMaxInputSize
	}
	return e
}

// Validate compiles expression without running it.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.program(expression)
	return err
}

// Execute evaluates expression against data. An empty expression returns
// data unchanged. No output yields nil, one output is returned as is and
// several outputs are returned as a slice.
func (e *Executor) Execute(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}
	out, err := e.eval(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

// Items evaluates expression and flattens its outputs into one list.
// Arrays contribute their elements and null outputs are skipped.
func (e *Executor) Items(ctx context.Context, expression string, data any) ([]any, error) {
	out := []any{data}
	if expression != "" {
		var err error
		if out, err = e.eval(ctx, expression, data); err != nil {
			return nil, err
		}
	}

	var items []any
	for _, v := range out {
		if arr, ok := v.([]any); ok {
			items = append(items, arr...)
		} else if v != nil {
			items = append(items, v)
		}
	}
	return items, nil
}

func (e *Executor) program(expression string) (*gojq.Code, error) {
	if code, ok := e.programs.Load(expression); ok {
		return code.(*gojq.Code), nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse %q: %w", expression, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compile %q: %w", expression, err)
	}
	e.programs.Store(expression, code)
	return code, nil
}

type evalResult struct {
	values []any
	err    error
}

func (e *Executor) eval(ctx context.Context, expression string, data any) ([]any, error) {
	size, err := encodedSize(data)
	if err != nil {
		return nil, err
	}
	if size > e.maxInputSize {
		return nil, fmt.Errorf("jq input is %d bytes, limit is %d", size, e.maxInputSize)
	}

	code, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// The iterator runs on its own goroutine so a runaway expression cannot
	// hold the caller past the deadline.
	done := make(chan evalResult, 1)
	go func() {
		var res evalResult
		iter := code.RunWithContext(ctx, data)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				res.err = err
				break
			}
			res.values = append(res.values, v)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("jq %q: %w", expression, res.err)
		}
		if res.err == nil {
			return res.values, nil
		}
	case <-ctx.Done():
	}
	return nil, fmt.Errorf("jq %q: timed out after %v", expression, e.timeout)
}

func encodedSize(data any) (int, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("jq input is not JSON encodable: %w", err)
	}
	return len(b), nil
}
