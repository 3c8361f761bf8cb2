// Copyright (c) The edgemux authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"

	"github.com/edgemux/edgemux/pkg/errors"
)

// Factory holds the concrete adapter for each protocol. It is assembled once
// at construction time; protocol variants are never chosen by inspecting
// connection types at runtime.
type Factory struct {
	adapters map[ProtocolKind]Adapter
}

// NewFactory creates a factory from the given adapters.
// Registering two adapters for the same protocol is a programming error.
func NewFactory(adapters ...Adapter) (*Factory, error) {
	f := &Factory{
		adapters: make(map[ProtocolKind]Adapter, len(adapters)),
	}
	for _, a := range adapters {
		kind := a.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedProtocol, kind)
		}
		if _, ok := f.adapters[kind]; ok {
			return nil, fmt.Errorf("duplicate adapter for protocol %s", kind)
		}
		f.adapters[kind] = a
	}
	return f, nil
}

// Adapter returns the adapter for the given protocol.
func (f *Factory) Adapter(kind ProtocolKind) (Adapter, error) {
	a, ok := f.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedProtocol, kind)
	}
	return a, nil
}

// Supports reports whether an adapter is registered for the protocol.
func (f *Factory) Supports(kind ProtocolKind) bool {
	_, ok := f.adapters[kind]
	return ok
}

// Kinds returns the registered protocols in the fixed protocol order.
func (f *Factory) Kinds() []ProtocolKind {
	var kinds []ProtocolKind
	for _, k := range Kinds() {
		if _, ok := f.adapters[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
