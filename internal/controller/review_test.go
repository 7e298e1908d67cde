package controller

import (
	"bytes"
	"context"
	"strings"
	"testing"

	m "github.com/mouse-blink/autocov/internal/model"
)

func reviewCandidates() []m.Candidate {
	return []m.Candidate{
		{ID: "a", TargetID: "calc.go:3-5", FileName: "autocov_a_test.go", Source: []byte("package calc\n")},
		{ID: "b", TargetID: "calc.go:3-5", FileName: "autocov_b_test.go", Source: []byte("package calc\n")},
		{ID: "c", TargetID: "calc.go:9-9", FileName: "autocov_c_test.go", Source: []byte("package calc\n")},
	}
}

func TestPromptReviewer_Review(t *testing.T) {
	var out bytes.Buffer
	reviewer := NewPromptReviewer(strings.NewReader("y\nno\nYes\n"), &out)

	approved, err := reviewer.Review(context.Background(), reviewCandidates())
	if err != nil {
		t.Fatalf("Review error = %v", err)
	}

	want := map[string]bool{"a": true, "b": false, "c": true}
	for id, ok := range want {
		if approved[id] != ok {
			t.Fatalf("approved[%s] = %v, want %v", id, approved[id], ok)
		}
	}

	output := out.String()
	for _, s := range []string{"[1/3] autocov_a_test.go (target calc.go:3-5)", "package calc", "merge this test? [y/N]"} {
		if !strings.Contains(output, s) {
			t.Fatalf("output missing %q\noutput:\n%s", s, output)
		}
	}
}

func TestPromptReviewer_EndOfInputDeclinesRest(t *testing.T) {
	reviewer := NewPromptReviewer(strings.NewReader("y"), &bytes.Buffer{})

	approved, err := reviewer.Review(context.Background(), reviewCandidates())
	if err != nil {
		t.Fatalf("Review error = %v", err)
	}

	if !approved["a"] || approved["b"] || approved["c"] {
		t.Fatalf("approved = %v, want only a", approved)
	}
}

func TestPromptReviewer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reviewer := NewPromptReviewer(strings.NewReader("y\n"), &bytes.Buffer{})

	if _, err := reviewer.Review(ctx, reviewCandidates()); err == nil {
		t.Fatalf("Review on cancelled context returned nil error")
	}
}
