package etlerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessageAndKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		kind    Kind
		wantSub string
	}{
		{
			name:    "configuration",
			err:     Configuration("dedup.FilterDuplicates", "missing %s", "SUPABASE_URL"),
			kind:    KindConfiguration,
			wantSub: "dedup.FilterDuplicates: configuration error: missing SUPABASE_URL",
		},
		{
			name:    "validation_without_op",
			err:     Validation("", "records must not be empty"),
			kind:    KindValidation,
			wantSub: "validation error: records must not be empty",
		},
		{
			name:    "wrapped_probe",
			err:     fmt.Errorf("table Emisores: %w", Wrap(KindProbe, "select", errors.New("timeout"))),
			kind:    KindProbe,
			wantSub: "select: probe error: timeout",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.kind {
				t.Fatalf("KindOf()=%q, want %q", got, tc.kind)
			}
			if !Is(tc.err, tc.kind) {
				t.Fatalf("Is(%v, %q)=false", tc.err, tc.kind)
			}
			if !strings.Contains(tc.err.Error(), tc.wantSub) {
				t.Fatalf("Error()=%q, want substring %q", tc.err.Error(), tc.wantSub)
			}
		})
	}
}

func TestWrapNilAndUnwrap(t *testing.T) {
	t.Parallel()

	if Wrap(KindBatch, "insert", nil) != nil {
		t.Fatalf("Wrap(nil) must stay nil")
	}
	base := errors.New("boom")
	err := Wrap(KindBatch, "insert", base)
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error does not unwrap to base")
	}
	if Is(base, KindBatch) {
		t.Fatalf("plain error must not report a kind")
	}
	if KindOf(nil) != "" {
		t.Fatalf("KindOf(nil) must be empty")
	}
}
