// Copyright 2025 The adwd Authors
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

package admission

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// oracleTimeout bounds one quota command invocation.
const oracleTimeout = 5 * time.Second

// CommandOracle shells out to an external command that prints the
// remaining quota. A first output token of "0" or "exhausted" means no
// quota remains; anything else is reported verbatim as the detail.
type CommandOracle struct {
	command []string
}

// NewCommandOracle creates an oracle from a space-separated command
// line.
func NewCommandOracle(command string) *CommandOracle {
	return &CommandOracle{command: strings.Fields(command)}
}

// Remaining implements QuotaOracle.
func (o *CommandOracle) Remaining(ctx context.Context) (string, bool, error) {
	if len(o.command) == 0 {
		return "", false, fmt.Errorf("quota command not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, oracleTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, o.command[0], o.command[1:]...).Output()
	if err != nil {
		return "", false, fmt.Errorf("quota command failed: %w", err)
	}

	detail := strings.TrimSpace(string(out))
	first := detail
	if fields := strings.Fields(detail); len(fields) > 0 {
		first = fields[0]
	}
	exhausted := first == "0" || strings.EqualFold(first, "exhausted")
	return detail, exhausted, nil
}
