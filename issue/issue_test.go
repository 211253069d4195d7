package issue_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jacentio/arbor/issue"
)

func TestIssue_MatchesSentinel(t *testing.T) {
	tests := []struct {
		kind     issue.Kind
		sentinel error
	}{
		{issue.InvalidPagination, issue.ErrInvalidPagination},
		{issue.UniquenessViolation, issue.ErrUniquenessViolation},
		{issue.NoEntityFound, issue.ErrNoEntityFound},
		{issue.CascadeDeleteBlocked, issue.ErrCascadeDeleteBlocked},
		{issue.CallerInvariantViolation, issue.ErrInvariantViolation},
		{issue.ConcurrencyConflict, issue.ErrConcurrencyConflict},
		{issue.AmbiguousResult, issue.ErrAmbiguousResult},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", issue.New(tt.kind, "studio", "x"))
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v to match %v", err, tt.sentinel)
			}
		})
	}
}

func TestIssue_DoesNotMatchOtherKinds(t *testing.T) {
	err := issue.New(issue.NoEntityFound, "studio", "")
	if errors.Is(err, issue.ErrUniquenessViolation) {
		t.Error("expected NoEntityFound not to match ErrUniquenessViolation")
	}
}

func TestIssue_MatchesIssueOfSameKind(t *testing.T) {
	err := issue.New(issue.UniquenessViolation, "studio", "name taken")
	if !errors.Is(err, &issue.Issue{Kind: issue.UniquenessViolation}) {
		t.Error("expected issues of the same kind to match")
	}
}

func TestIssue_Error(t *testing.T) {
	err := issue.New(issue.UniquenessViolation, "studio", "name must be unique")
	expected := "arbor: uniqueness violation (studio): name must be unique"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}

	bare := issue.New(issue.NoEntityFound, "", "")
	if bare.Error() != "arbor: no entity found" {
		t.Errorf("expected bare sentinel text, got %q", bare.Error())
	}
}

func TestOf(t *testing.T) {
	wrapped := fmt.Errorf("create: %w", issue.New(issue.CascadeDeleteBlocked, "studio", ""))
	got, ok := issue.Of(wrapped)
	if !ok {
		t.Fatal("expected issue to be extracted")
	}
	if got.Kind != issue.CascadeDeleteBlocked {
		t.Errorf("expected CascadeDeleteBlocked, got %v", got.Kind)
	}

	if _, ok := issue.Of(errors.New("plain")); ok {
		t.Error("expected no issue in a plain error")
	}
}
