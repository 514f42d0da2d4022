package ria

import (
	"context"
	"encoding/xml"
	"slices"
	"strings"
)

// ValidationResult is a single validation failure, optionally attached to
// one or more members. A result without members applies to the whole object.
type ValidationResult struct {
	Message     string   `json:"message"`
	MemberNames []string `json:"memberNames,omitempty"`
}

// NewValidationResult creates a result for the given members.
func NewValidationResult(message string, members ...string) ValidationResult {
	return ValidationResult{Message: message, MemberNames: members}
}

// Equal reports whether two results carry the same message and member names.
func (r ValidationResult) Equal(other ValidationResult) bool {
	return r.Message == other.Message && slices.Equal(r.MemberNames, other.MemberNames)
}

// identity is the dedup key used when merging validator output.
func (r ValidationResult) identity() string {
	return r.Message + "\x00" + strings.Join(r.MemberNames, "\x00")
}

// Info converts the result into its wire form.
func (r ValidationResult) Info() ValidationResultInfo {
	return ValidationResultInfo{
		Message:           r.Message,
		SourceMemberNames: slices.Clone(r.MemberNames),
	}
}

func (r ValidationResult) String() string {
	if len(r.MemberNames) == 0 {
		return r.Message
	}
	return strings.Join(r.MemberNames, ",") + ": " + r.Message
}

// ValidationResultInfo is the serialized validation record exchanged with a
// domain service.
type ValidationResultInfo struct {
	XMLName           xml.Name `json:"-" xml:"DomainServices ValidationResultInfo"`
	Message           string   `json:"message" xml:"Message"`
	ErrorCode         int      `json:"errorCode,omitempty" xml:"ErrorCode"`
	StackTrace        string   `json:"stackTrace,omitempty" xml:"StackTrace,omitempty"`
	SourceMemberNames []string `json:"sourceMemberNames,omitempty" xml:"SourceMemberNames>string"`
}

// Result converts the wire form back into a ValidationResult.
func (i ValidationResultInfo) Result() ValidationResult {
	return ValidationResult{Message: i.Message, MemberNames: slices.Clone(i.SourceMemberNames)}
}

// Validator is the validation engine consulted before a submit. An empty
// result slice means the object is valid.
type Validator interface {
	// ValidateEntity runs object-level validation of the entity's current values.
	ValidateEntity(ctx context.Context, entity *Entity) []ValidationResult
	// ValidateAction validates a recorded custom method invocation against the
	// parameter rules declared by the entity type.
	ValidateAction(ctx context.Context, entity *Entity, action EntityAction) []ValidationResult
}

func copyValidationResults(results []ValidationResult) []ValidationResult {
	out := make([]ValidationResult, 0, len(results))
	for _, r := range results {
		out = append(out, ValidationResult{Message: r.Message, MemberNames: slices.Clone(r.MemberNames)})
	}
	return out
}

// dedupValidationResults drops results equal to an earlier one, keeping order.
func dedupValidationResults(results []ValidationResult) []ValidationResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]ValidationResult, 0, len(results))
	for _, r := range results {
		id := r.identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}
