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

	"github.com/itchyny/gojq"
)

// Default jq expressions for GitHub issue and issue-comment events.
const (
	defaultIssueNumberExpr = ".issue.number"
	defaultBodyExpr        = ".comment.body // .issue.body"
	defaultSenderExpr      = ".sender.login"
	defaultActionExpr      = ".action"
)

// Event is the mapped view of a raw webhook payload.
type Event struct {
	IssueNumber int
	Body        string
	Sender      string
	Action      string
	Raw         map[string]any
}

// Mapping extracts event fields from raw payloads with compiled jq
// expressions, so non-GitHub forwarders can be adapted by
// configuration.
type Mapping struct {
	issueNumber *gojq.Code
	body        *gojq.Code
	sender      *gojq.Code
	action      *gojq.Code
}

// MappingExprs overrides individual field expressions; zero values use
// the GitHub defaults.
type MappingExprs struct {
	IssueNumber string
	Body        string
	Sender      string
	Action      string
}

// NewMapping compiles the field expressions.
func NewMapping(exprs MappingExprs) (*Mapping, error) {
	m := &Mapping{}
	for _, field := range []struct {
		name     string
		expr     string
		fallback string
		dst      **gojq.Code
	}{
		{"issue_number", exprs.IssueNumber, defaultIssueNumberExpr, &m.issueNumber},
		{"body", exprs.Body, defaultBodyExpr, &m.body},
		{"sender", exprs.Sender, defaultSenderExpr, &m.sender},
		{"action", exprs.Action, defaultActionExpr, &m.action},
	} {
		expr := field.expr
		if expr == "" {
			expr = field.fallback
		}
		code, err := compileJQ(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s mapping: %w", field.name, err)
		}
		*field.dst = code
	}
	return m, nil
}

// Map applies the expressions to a raw payload.
func (m *Mapping) Map(payload map[string]any) (*Event, error) {
	event := &Event{Raw: payload}

	if v := runJQ(m.issueNumber, payload); v != nil {
		switch n := v.(type) {
		case int:
			event.IssueNumber = n
		case float64:
			event.IssueNumber = int(n)
		}
	}
	if v, ok := runJQ(m.body, payload).(string); ok {
		event.Body = v
	}
	if v, ok := runJQ(m.sender, payload).(string); ok {
		event.Sender = v
	}
	if v, ok := runJQ(m.action, payload).(string); ok {
		event.Action = v
	}

	if event.Body == "" {
		// Return the partial event so callers can still reach the
		// originating issue with a diagnostic.
		return event, fmt.Errorf("payload has no event body")
	}
	return event, nil
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}
	return code, nil
}

// runJQ returns the first non-error result, or nil.
func runJQ(code *gojq.Code, data any) any {
	iter := code.Run(data)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if _, isErr := v.(error); isErr {
			continue
		}
		if v != nil {
			return v
		}
	}
}
