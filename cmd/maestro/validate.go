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

package main

import (
	"context"
	"fmt"

	"github.com/kadirpekel/maestro/pkg/config"
)

// ValidateCmd checks a configuration file and reports the result.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("no config file given, use --config")
	}

	cfg, loader, err := config.LoadFile(context.Background(), cli.Config)
	if err != nil {
		return fmt.Errorf("config is invalid: %w", err)
	}
	if loader != nil {
		defer loader.Close()
	}

	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  server:   %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  model:    %s/%s\n", cfg.Model.Provider, cfg.Model.Name)
	fmt.Printf("  sessions: %s\n", cfg.Session.Backend)
	return nil
}
