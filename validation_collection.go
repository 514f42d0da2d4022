package ria

import (
	"slices"
	"sort"
	"strings"
)

// ValidationHooks receives change notifications from a
// ValidationResultCollection. Any hook may be nil. A member name of "" stands for
// object-level errors.
type ValidationHooks struct {
	HasErrorsChanged      func(hasErrors bool)
	PropertyErrorsChanged func(member string)
	CollectionChanged     func()
}

// ValidationResultCollection is the mutable error bag of an entity or complex
// object. Every mutation produces one batch of notifications: the has-errors
// transition, one notification per affected member, then the aggregate one.
type ValidationResultCollection struct {
	results []ValidationResult
	hooks   ValidationHooks
	onClear func()
}

// NewValidationResultCollection creates an empty collection.
func NewValidationResultCollection(hooks ValidationHooks) *ValidationResultCollection {
	return &ValidationResultCollection{hooks: hooks}
}

// SetHooks replaces the notification hooks.
func (c *ValidationResultCollection) SetHooks(hooks ValidationHooks) {
	c.hooks = hooks
}

// Len returns the number of results.
func (c *ValidationResultCollection) Len() int {
	return len(c.results)
}

// HasErrors reports whether the collection is non-empty.
func (c *ValidationResultCollection) HasErrors() bool {
	return len(c.results) > 0
}

// All returns a copy of the results in insertion order.
func (c *ValidationResultCollection) All() []ValidationResult {
	return copyValidationResults(c.results)
}

// ForMember returns the results that name member. Passing "" returns the
// object-level results.
func (c *ValidationResultCollection) ForMember(member string) []ValidationResult {
	var out []ValidationResult
	for _, r := range c.results {
		if member == "" && len(r.MemberNames) == 0 {
			out = append(out, r)
			continue
		}
		if slices.Contains(r.MemberNames, member) {
			out = append(out, r)
		}
	}
	return out
}

// MembersInError returns the sorted set of members with at least one error,
// with "" standing for object-level errors.
func (c *ValidationResultCollection) MembersInError() []string {
	return sortedKeys(membersInError(c.results))
}

// Add appends a result.
func (c *ValidationResultCollection) Add(result ValidationResult) {
	before := c.results
	c.results = append(slices.Clip(before), result)
	c.changed(before, resultMembers(result))
}

// Remove deletes the first result equal to result and reports whether one was found.
func (c *ValidationResultCollection) Remove(result ValidationResult) bool {
	idx := slices.IndexFunc(c.results, result.Equal)
	if idx < 0 {
		return false
	}
	before := c.results
	c.results = slices.Delete(slices.Clone(before), idx, idx+1)
	c.changed(before, resultMembers(result))
	return true
}

// Clear removes every result. Entities cascade the clear into their complex
// members.
func (c *ValidationResultCollection) Clear() {
	if len(c.results) > 0 {
		before := c.results
		c.results = nil
		c.changed(before, nil)
	}
	if c.onClear != nil {
		c.onClear()
	}
}

// ReplaceErrors swaps the whole content for results with a single notification batch.
func (c *ValidationResultCollection) ReplaceErrors(results []ValidationResult) {
	before := c.results
	c.results = copyValidationResults(results)
	var affected []string
	for _, r := range results {
		affected = append(affected, resultMembers(r)...)
	}
	c.changed(before, affected)
}

// ReplaceErrorsForMember replaces the errors of member, including errors on
// nested member paths ("member.child"), with results.
func (c *ValidationResultCollection) ReplaceErrorsForMember(member string, results []ValidationResult) {
	before := c.results
	kept := make([]ValidationResult, 0, len(before)+len(results))
	affected := []string{member}
	for _, r := range before {
		if namesMember(r, member) {
			affected = append(affected, resultMembers(r)...)
			continue
		}
		kept = append(kept, r)
	}
	for _, r := range results {
		kept = append(kept, ValidationResult{Message: r.Message, MemberNames: slices.Clone(r.MemberNames)})
		affected = append(affected, resultMembers(r)...)
	}
	c.results = kept
	c.changed(before, affected)
}

func (c *ValidationResultCollection) changed(before []ValidationResult, affected []string) {
	hadErrors, hasErrors := len(before) > 0, len(c.results) > 0
	if hadErrors != hasErrors && c.hooks.HasErrorsChanged != nil {
		c.hooks.HasErrorsChanged(hasErrors)
	}

	oldMembers := membersInError(before)
	newMembers := membersInError(c.results)
	notify := make(map[string]struct{}, len(oldMembers)+len(newMembers)+len(affected))
	for m := range oldMembers {
		if _, ok := newMembers[m]; !ok {
			notify[m] = struct{}{}
		}
	}
	for m := range newMembers {
		if _, ok := oldMembers[m]; !ok {
			notify[m] = struct{}{}
		}
	}
	for _, m := range affected {
		notify[m] = struct{}{}
	}
	if c.hooks.PropertyErrorsChanged != nil {
		for _, m := range sortedKeys(notify) {
			c.hooks.PropertyErrorsChanged(m)
		}
	}
	if c.hooks.CollectionChanged != nil {
		c.hooks.CollectionChanged()
	}
}

func namesMember(r ValidationResult, member string) bool {
	for _, name := range r.MemberNames {
		if name == member || strings.HasPrefix(name, member+".") {
			return true
		}
	}
	return false
}

func resultMembers(r ValidationResult) []string {
	if len(r.MemberNames) == 0 {
		return []string{""}
	}
	return r.MemberNames
}

func membersInError(results []ValidationResult) map[string]struct{} {
	set := make(map[string]struct{})
	for _, r := range results {
		for _, m := range resultMembers(r) {
			set[m] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
