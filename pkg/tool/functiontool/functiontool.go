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

// Package functiontool creates tools from typed Go functions.
//
// A function tool wraps a plain func with typed arguments into a
// tool.CallableTool, deriving the parameter schema from the argument
// struct's json and jsonschema tags:
//
//	type WeatherArgs struct {
//	    Location string `json:"location" jsonschema:"required,description=City name"`
//	    Unit     string `json:"unit,omitempty" jsonschema:"description=Temperature unit,enum=celsius|fahrenheit"`
//	}
//
//	t, err := functiontool.New(
//	    functiontool.Config{Name: "get_weather", Description: "Look up the weather"},
//	    func(ctx tool.Context, args WeatherArgs) (map[string]any, error) {
//	        return map[string]any{"condition": "sunny"}, nil
//	    },
//	)
//
// For tools with streaming output or dynamic schemas, implement
// tool.CallableTool or tool.StreamingTool directly.
package functiontool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/maestro/pkg/tool"
)

// Config configures a function tool.
type Config struct {
	// Name is the unique identifier shown to the LLM. Required.
	Name string

	// Description tells the LLM what the tool does and when to call it.
	// Required.
	Description string
}

// New creates a CallableTool from a typed function. The parameter
// schema is generated from the Args struct's tags.
func New[Args any](cfg Config, fn func(tool.Context, Args) (map[string]any, error)) (tool.CallableTool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("functiontool: name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("functiontool: description is required for %q", cfg.Name)
	}
	if fn == nil {
		return nil, fmt.Errorf("functiontool: function is required for %q", cfg.Name)
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("functiontool: schema for %q: %w", cfg.Name, err)
	}

	return &functionTool[Args]{cfg: cfg, fn: fn, schema: schema}, nil
}

// NewWithValidation creates a CallableTool whose arguments pass
// through validate before the function runs. Use it for constraints
// struct tags cannot express.
func NewWithValidation[Args any](
	cfg Config,
	fn func(tool.Context, Args) (map[string]any, error),
	validate func(Args) error,
) (tool.CallableTool, error) {
	base, err := New(cfg, fn)
	if err != nil {
		return nil, err
	}
	return &validatedTool[Args]{
		functionTool: base.(*functionTool[Args]),
		validate:     validate,
	}, nil
}

type functionTool[Args any] struct {
	cfg    Config
	fn     func(tool.Context, Args) (map[string]any, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string { return t.cfg.Name }

func (t *functionTool[Args]) Description() string { return t.cfg.Description }

func (t *functionTool[Args]) Schema() map[string]any { return t.schema }

// Call decodes the raw arguments into the typed struct and invokes
// the wrapped function.
func (t *functionTool[Args]) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.cfg.Name, err)
	}
	return t.fn(ctx, typed)
}

type validatedTool[Args any] struct {
	*functionTool[Args]
	validate func(Args) error
}

func (t *validatedTool[Args]) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.cfg.Name, err)
	}
	if t.validate != nil {
		if err := t.validate(typed); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", t.cfg.Name, err)
		}
	}
	return t.fn(ctx, typed)
}

// generateSchema reflects the Args type into an inline JSON schema.
func generateSchema[Args any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	data, err := json.Marshal(reflector.Reflect(new(Args)))
	if err != nil {
		return nil, err
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}

	// $schema and $id are noise for function-calling payloads.
	delete(schema, "$schema")
	delete(schema, "$id")

	if schema["type"] != "object" {
		return nil, fmt.Errorf("args type must be a struct")
	}
	return schema, nil
}

// decodeArgs converts the raw argument map to the typed struct via a
// JSON round trip, which handles numeric coercion consistently.
func decodeArgs(args map[string]any, target any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

var (
	_ tool.CallableTool = (*functionTool[struct{}])(nil)
	_ tool.CallableTool = (*validatedTool[struct{}])(nil)
)
