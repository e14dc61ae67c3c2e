/*
 * Accounts
 * Copyright (C) 2025  Accounts Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package searchusers implements keyword search over user records.
//
// A query is a space-separated list of keyword terms of the form
// "keyword:value[,value...]", e.g.:
//
//	"username:jps,richb"  matches users whose username starts with
//	                      "jps" or "richb"
//	"name:John"           matches users whose first, last or full name
//	                      starts with "John"
//
// Terms combine with AND, values within a term with OR. A query with
// no recognized terms matches nothing, so a blank query can never
// enumerate all users.
package searchusers

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/gravitational/trace"

	"github.com/jpslav/accounts/api/types"
	"github.com/jpslav/accounts/lib/services"
)

// Options controls query pagination.
type Options struct {
	// PerPage is the maximum number of results to return; zero means
	// no pagination.
	PerPage int
	// Page is the zero-based page to return.
	Page int
}

var (
	nameDiscardedChars     = regexp.MustCompile(`[^A-Za-z ']`)
	usernameDiscardedChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// Search runs the keyword query against the user store and returns
// the matching users ordered by username.
func Search(ctx context.Context, users services.Users, query string, opts Options) ([]*types.User, error) {
	matchers := parseQuery(query)
	if len(matchers) == 0 {
		// No recognized restriction: return no results rather than
		// everything.
		return nil, nil
	}

	all, err := users.ListUsers(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var matched []*types.User
	for _, user := range all {
		ok := true
		for _, matches := range matchers {
			if !matches(user) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, user)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Username < matched[j].Username
	})

	if opts.PerPage > 0 {
		// A negative page reads as the first one.
		start := max(opts.Page, 0) * opts.PerPage
		if start >= len(matched) {
			return nil, nil
		}
		end := min(start+opts.PerPage, len(matched))
		matched = matched[start:end]
	}
	return matched, nil
}

type matcher func(*types.User) bool

func parseQuery(query string) []matcher {
	var matchers []matcher
	for _, term := range strings.Fields(query) {
		keyword, rawValues, ok := strings.Cut(term, ":")
		if !ok {
			continue
		}
		values := strings.Split(rawValues, ",")
		switch keyword {
		case "username":
			prefixes := prepUsernames(values)
			matchers = append(matchers, func(u *types.User) bool {
				return hasAnyPrefix(strings.ToLower(u.Username), prefixes)
			})
		case "first_name":
			prefixes := prepNames(values)
			matchers = append(matchers, func(u *types.User) bool {
				return hasAnyPrefix(strings.ToLower(u.FirstName), prefixes)
			})
		case "last_name":
			prefixes := prepNames(values)
			matchers = append(matchers, func(u *types.User) bool {
				return hasAnyPrefix(strings.ToLower(u.LastName), prefixes)
			})
		case "full_name":
			prefixes := prepNames(values)
			matchers = append(matchers, func(u *types.User) bool {
				return hasAnyPrefix(strings.ToLower(u.FullName()), prefixes)
			})
		case "name":
			prefixes := prepNames(values)
			matchers = append(matchers, func(u *types.User) bool {
				return hasAnyPrefix(strings.ToLower(u.FirstName), prefixes) ||
					hasAnyPrefix(strings.ToLower(u.LastName), prefixes) ||
					hasAnyPrefix(strings.ToLower(u.FullName()), prefixes)
			})
		case "id":
			ids := values
			matchers = append(matchers, func(u *types.User) bool {
				for _, id := range ids {
					if u.ID == id {
						return true
					}
				}
				return false
			})
		case "email":
			emails := values
			matchers = append(matchers, func(u *types.User) bool {
				for _, address := range u.EmailAddresses {
					if !address.Verified {
						continue
					}
					for _, email := range emails {
						if address.Address == email {
							return true
						}
					}
				}
				return false
			})
		}
	}
	return matchers
}

// prepNames throws out funky characters and downcases, yielding
// prefixes to match names against.
func prepNames(names []string) []string {
	prefixes := make([]string, 0, len(names))
	for _, name := range names {
		if p := strings.ToLower(nameDiscardedChars.ReplaceAllString(name, "")); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

func prepUsernames(usernames []string) []string {
	prefixes := make([]string, 0, len(usernames))
	for _, username := range usernames {
		if p := strings.ToLower(usernameDiscardedChars.ReplaceAllString(username, "")); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
