// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pipeline runs chat text through the registered text filters.
package pipeline

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/palaver/pkg/plugin"
)

// Direction labels the pipeline a message travels through.
type Direction string

// Pipeline directions.
const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Pipeline holds text filters in registration order.
//
// Filters may be added while messages are being processed; each message
// runs against the set present when it entered the pipeline.
type Pipeline struct {
	mu      sync.RWMutex
	filters []plugin.TextFilter
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Add appends f. Filters run in the order they were added.
func (p *Pipeline) Add(f plugin.TextFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = append(p.filters, f)
}

// Len returns the number of registered filters.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.filters)
}

// Names lists the registered filters in order.
func (p *Pipeline) Names() []string {
	filters := p.snapshot()
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.Name()
	}
	return names
}

// ApplyOutbound passes text through every filter's OnBeforeSend.
func (p *Pipeline) ApplyOutbound(ctx context.Context, text string) (string, error) {
	return p.apply(ctx, Outbound, text)
}

// ApplyInbound passes text through every filter's OnBeforeReceive.
func (p *Pipeline) ApplyInbound(ctx context.Context, text string) (string, error) {
	return p.apply(ctx, Inbound, text)
}

func (p *Pipeline) snapshot() []plugin.TextFilter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]plugin.TextFilter(nil), p.filters...)
}

// apply folds text through every filter. Any filter error fails the whole
// message; the partially filtered text is never returned.
func (p *Pipeline) apply(ctx context.Context, dir Direction, text string) (string, error) {
	for i, f := range p.snapshot() {
		var err error
		if dir == Outbound {
			text, err = f.OnBeforeSend(ctx, text)
		} else {
			text, err = f.OnBeforeReceive(ctx, text)
		}
		if err != nil {
			return "", oops.Code(plugin.CodeFilterFailed).
				With("filter", f.Name()).
				With("position", i).
				With("direction", string(dir)).
				Errorf("filter %s failed on %s text: %v", f.Name(), dir, err)
		}
	}
	return text, nil
}
