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

package history

import (
	"errors"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/warmonger0/adwd/internal/log"
	"github.com/warmonger0/adwd/internal/state"
)

// Scanner enumerates the workflow state filesystem and yields raw
// records. Unreadable entries are skipped with a warning.
type Scanner struct {
	store    *state.Store
	excludes []string
	logger   *slog.Logger
}

// NewScanner creates a scanner over the given state store. Entries whose
// directory names match any exclude glob are skipped.
func NewScanner(store *state.Store, excludes []string, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:    store,
		excludes: excludes,
		logger:   logger,
	}
}

// Scan reads every workflow record under the state root. It returns the
// parseable records and the count of entries skipped as unreadable.
func (s *Scanner) Scan() ([]*state.Record, int, error) {
	ids, err := s.store.List()
	if err != nil {
		return nil, 0, err
	}

	var records []*state.Record
	skipped := 0
	for _, id := range ids {
		if s.excluded(id) {
			continue
		}

		rec, err := s.store.Read(id)
		if err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				s.logger.Warn("skipping unreadable state entry",
					slog.String(log.ADWIDKey, id),
					log.Error(err))
				skipped++
			}
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func (s *Scanner) excluded(name string) bool {
	for _, glob := range s.excludes {
		if ok, err := doublestar.Match(glob, name); err == nil && ok {
			return true
		}
	}
	return false
}
