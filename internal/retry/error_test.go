package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyPrefersTaggedKind(t *testing.T) {
	tagged := New(KindPermission, "validate", "query returned nothing")
	wrapped := fmt.Errorf("outer: %w", tagged)
	if got := Classify(wrapped); got != KindPermission {
		t.Fatalf("expected permission kind, got %s", got)
	}
}

func TestClassifyFallsBackToMessageText(t *testing.T) {
	testCases := []struct {
		name    string
		message string
		want    Kind
	}{
		{name: "network", message: "Network connection reset", want: KindNetwork},
		{name: "fetch", message: "failed to fetch", want: KindNetwork},
		{name: "permission", message: "permission denied for table", want: KindPermission},
		{name: "unauthorized", message: "Unauthorized", want: KindPermission},
		{name: "validation", message: "validation failed", want: KindValidation},
		{name: "invalid", message: "invalid input syntax", want: KindValidation},
		{name: "constraint", message: "UNIQUE constraint failed", want: KindDatabase},
		{name: "query", message: "query canceled", want: KindDatabase},
		{name: "unmatched", message: "something odd happened", want: KindDatabase},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := Classify(errors.New(testCase.message)); got != testCase.want {
				t.Fatalf("Classify(%q) = %s, want %s", testCase.message, got, testCase.want)
			}
		})
	}
}

func TestClassifyTransportFailures(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != KindNetwork {
		t.Fatalf("expected deadline to classify as network, got %s", got)
	}
	if got := Classify(fmt.Errorf("dial: %w", timeoutError{})); got != KindNetwork {
		t.Fatalf("expected net.Error to classify as network, got %s", got)
	}
}

func TestFromStoreTagsDatabaseFailures(t *testing.T) {
	cause := errors.New("no such table: post_collectives")
	tagged := FromStore("list", cause)
	if tagged.Kind != KindDatabase {
		t.Fatalf("expected database kind, got %s", tagged.Kind)
	}
	if !errors.Is(tagged, cause) {
		t.Fatalf("expected tagged error to wrap cause")
	}
	if FromStore("list", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
	if got := FromStore("list", context.Canceled).Kind; got != KindNetwork {
		t.Fatalf("expected canceled context to be network, got %s", got)
	}
}
