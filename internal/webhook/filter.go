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

package webhook

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// defaultFilterExpr drops the orchestrator's own comments and event
// actions that never carry a new command.
const defaultFilterExpr = `!(body contains bot) and (action in ["opened", "created", "edited", ""])`

// Filter decides whether a mapped event should be processed. The
// expression is compiled once at startup and evaluated against a map
// environment: body, sender, action, issue_number, bot.
type Filter struct {
	program *vm.Program
	bot     string
}

// NewFilter compiles the filter expression; empty uses the default.
func NewFilter(expression, botIdentifier string) (*Filter, error) {
	if expression == "" {
		expression = defaultFilterExpr
	}

	program, err := expr.Compile(expression,
		expr.Env(map[string]any{
			"body":         "",
			"sender":       "",
			"action":       "",
			"issue_number": 0,
			"bot":          "",
		}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return &Filter{program: program, bot: botIdentifier}, nil
}

// Accept evaluates the filter against one event. Evaluation errors
// reject the event.
func (f *Filter) Accept(event *Event) bool {
	out, err := expr.Run(f.program, map[string]any{
		"body":         event.Body,
		"sender":       event.Sender,
		"action":       event.Action,
		"issue_number": event.IssueNumber,
		"bot":          f.bot,
	})
	if err != nil {
		return false
	}
	accepted, ok := out.(bool)
	return ok && accepted
}
