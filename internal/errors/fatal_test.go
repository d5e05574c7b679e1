package errors_test

import (
	"testing"

	"github.com/hashget/hashget/internal/errors"
)

func TestFatal(t *testing.T) {
	for _, v := range []struct {
		err      error
		expected bool
	}{
		{errors.Fatal("broken"), true},
		{errors.Fatalf("broken %d", 42), true},
		{errors.New("error"), false},
		{errors.Wrap(errors.Fatal("inner"), "outer"), true},
	} {
		if errors.IsFatal(v.err) != v.expected {
			t.Fatalf("IsFatal for %q, expected: %v, got: %v", v.err, v.expected, errors.IsFatal(v.err))
		}
	}
}

func TestFatalfUnwrap(t *testing.T) {
	underlying := errors.New("manifest unreadable")
	fatal := errors.Fatalf("postunpack: %v", underlying)

	if fatal.Error() != "Fatal: postunpack: manifest unreadable" {
		t.Errorf("unexpected error message: %v", fatal.Error())
	}

	if !errors.Is(fatal, underlying) {
		t.Error("fatal error should wrap the underlying error")
	}
}
