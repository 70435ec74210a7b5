package errors

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestErrorsIs(t *testing.T) {
	cases := map[string]struct {
		kind    *Error
		err     error
		wantIs  bool
	}{
		"instance of the same root": {
			kind:   ErrNotFound,
			err:    ErrNotFound,
			wantIs: true,
		},
		"wrapped root": {
			kind:   ErrNonce,
			err:    Wrap(ErrNonce, "transaction 4"),
			wantIs: true,
		},
		"deeply wrapped root": {
			kind:   ErrTimeLock,
			err:    Wrap(Wrap(ErrTimeLock, "inner"), "outer"),
			wantIs: true,
		},
		"different root": {
			kind:   ErrUnauthorized,
			err:    Wrap(ErrQuorum, "2 of 3"),
			wantIs: false,
		},
		"stdlib error": {
			kind:   ErrLimit,
			err:    fmt.Errorf("spending limit exceeded"),
			wantIs: false,
		},
		"nil error": {
			kind:   ErrLedger,
			err:    nil,
			wantIs: false,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			if got := tc.kind.Is(tc.err); got != tc.wantIs {
				t.Fatalf("unexpected Is result: %v", got)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "ignored"); err != nil {
		t.Fatalf("wrapping nil must return nil, got %+v", err)
	}
}

func TestWrapPreservesMessageChain(t *testing.T) {
	err := Wrap(Wrap(ErrState, "frozen"), "execute")
	const want = "execute: frozen: invalid state"
	if got := err.Error(); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestWrapAttachesStackTraceOnce(t *testing.T) {
	inner := Wrap(ErrDuplicate, "inner")
	outer := Wrap(inner, "outer")

	if stackTrace(inner) == nil {
		t.Fatal("inner wrap must carry a stack trace")
	}
	// The outer layer must reuse the stack attached by the inner one.
	if _, ok := outer.(*wrappedError).parent.(stackTracer); ok {
		t.Fatal("stack trace attached twice")
	}
}

func TestRegisterPanicsOnCollision(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("reusing an error code must panic")
		}
	}()
	Register(2, "duplicate of unauthorized")
}

func TestRecover(t *testing.T) {
	run := func() (err error) {
		defer Recover(&err)
		panic("kaboom")
	}
	err := run()
	if !ErrPanic.Is(err) {
		t.Fatalf("want a panic error, got %+v", err)
	}
}

func TestAppend(t *testing.T) {
	cases := map[string]struct {
		a, b     error
		wantNil  bool
		wantMsg  string
	}{
		"both nil": {
			a: nil, b: nil, wantNil: true,
		},
		"first nil": {
			a: nil, b: ErrEmpty, wantMsg: "value is empty",
		},
		"second nil": {
			a: ErrEmpty, b: nil, wantMsg: "value is empty",
		},
		"both set": {
			a:       ErrEmpty,
			b:       errors.New("boom"),
			wantMsg: "value is empty; boom",
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			err := Append(tc.a, tc.b)
			if tc.wantNil {
				if err != nil {
					t.Fatalf("want nil, got %+v", err)
				}
				return
			}
			if err.Error() != tc.wantMsg {
				t.Fatalf("want %q, got %q", tc.wantMsg, err.Error())
			}
		})
	}
}

func TestAppendKeepsRootMatching(t *testing.T) {
	err := Append(Wrap(ErrInput, "threshold"), Wrap(ErrInput, "owners"))
	if !ErrInput.Is(err) {
		t.Fatalf("aggregated error lost its root: %+v", err)
	}
}
