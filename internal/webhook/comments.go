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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/warmonger0/adwd/internal/log"
)

// maxErrorExcerpt bounds the error text included in comments.
const maxErrorExcerpt = 200

// CommentPoster posts a comment to an issue in the tracker.
type CommentPoster interface {
	PostComment(ctx context.Context, issue int, body string) error
}

// GitHubPoster posts comments through the GitHub REST API.
type GitHubPoster struct {
	repo   string
	token  string
	client *http.Client
}

// NewGitHubPoster creates a poster for the owner/name repository.
func NewGitHubPoster(repo, token string) *GitHubPoster {
	return &GitHubPoster{
		repo:   repo,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// PostComment implements CommentPoster with one retry on 5xx.
func (p *GitHubPoster) PostComment(ctx context.Context, issue int, body string) error {
	if p.repo == "" {
		return fmt.Errorf("no repository configured")
	}

	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/issues/%d/comments", p.repo, issue)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Content-Type", "application/json")
		if p.token != "" {
			req.Header.Set("Authorization", "Bearer "+p.token)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("comment API returned %s", resp.Status)
		if resp.StatusCode < 500 {
			break
		}
	}
	return lastErr
}

// RateLimitedPoster wraps a poster with a per-issue rate limit so
// repeated failures cannot flood an issue with comments.
type RateLimitedPoster struct {
	inner  CommentPoster
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
}

// NewRateLimitedPoster wraps the given poster.
func NewRateLimitedPoster(inner CommentPoster, logger *slog.Logger) *RateLimitedPoster {
	return &RateLimitedPoster{
		inner:    inner,
		logger:   logger,
		limiters: make(map[int]*rate.Limiter),
	}
}

// PostComment drops the comment when the issue's limiter disallows it.
func (p *RateLimitedPoster) PostComment(ctx context.Context, issue int, body string) error {
	p.mu.Lock()
	limiter, ok := p.limiters[issue]
	if !ok {
		// One comment every ten seconds, with room for a short burst.
		limiter = rate.NewLimiter(rate.Every(10*time.Second), 3)
		p.limiters[issue] = limiter
	}
	p.mu.Unlock()

	if !limiter.Allow() {
		p.logger.Warn("comment rate limit hit, dropping comment",
			slog.Int(log.IssueKey, issue))
		return nil
	}
	return p.inner.PostComment(ctx, issue, body)
}

// Comments renders the user-facing comment templates. Every body is
// prefixed with the bot identifier so the orchestrator can recognize
// and skip its own comments.
type Comments struct {
	bot string
}

// NewComments creates a template renderer with the given bot
// identifier.
func NewComments(botIdentifier string) *Comments {
	return &Comments{bot: botIdentifier}
}

// Excerpt truncates error text for inclusion in a comment.
func Excerpt(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	if len(text) > maxErrorExcerpt {
		text = text[:maxErrorExcerpt]
	}
	return text
}

// Ack confirms a dispatched workflow.
func (c *Comments) Ack(adwID, workflow, modelSet string) string {
	return fmt.Sprintf("%s Workflow `%s` started with the %s model set.\n\nTracking id: `%s`",
		c.bot, workflow, modelSet, adwID)
}

// PayloadError reports a payload that could not be parsed or mapped.
func (c *Comments) PayloadError(excerpt, systemStatus string) string {
	return fmt.Sprintf(
		"%s I couldn't read this event.\n\nError: `%s`\n\nNext step: re-deliver the webhook or re-post the command as a new comment.\n\nSystem status: %s",
		c.bot, excerpt, systemStatus)
}

// ExtractionFailed reports a slow-path classification failure.
func (c *Comments) ExtractionFailed(excerpt, systemStatus string) string {
	return fmt.Sprintf(
		"%s I couldn't work out which workflow to run from this text.\n\nError: `%s`\n\nNext step: state the workflow explicitly, e.g. `adw_plan_iso with base model`.\n\nSystem status: %s",
		c.bot, excerpt, systemStatus)
}

// CannotStart reports an admission rejection with the live values of
// all four checks.
func (c *Comments) CannotStart(reasons []string, summary string) string {
	return fmt.Sprintf(
		"%s Cannot start this workflow right now.\n\n- %s\n\nCurrent state: %s\n\nNext step: free resources or wait, then re-post the command.",
		c.bot, strings.Join(reasons, "\n- "), summary)
}

// DispatchFailed reports a dispatch or spawn failure.
func (c *Comments) DispatchFailed(excerpt, systemStatus string) string {
	return fmt.Sprintf(
		"%s The workflow failed to start.\n\nError: `%s`\n\nNext step: check the orchestrator logs and re-post the command.\n\nSystem status: %s",
		c.bot, excerpt, systemStatus)
}
