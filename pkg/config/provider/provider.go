// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider abstracts where configuration bytes come from.
//
// The file provider is the only implementation; it supports change
// watching so the server can hot-reload with --watch.
package provider

import "context"

// Provider is a source of raw configuration bytes.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Load reads the current configuration bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the source
	// changes. A nil channel means the provider does not support
	// watching. Cancel the context to stop.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases resources held by the provider.
	Close() error
}
