package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_WalksWrapping(t *testing.T) {
	base := E(RemoteTimeout, "reduce_region", errors.New("no response within 1m30s"))
	wrapped := fmt.Errorf("statistics: %w", base)

	if got := KindOf(wrapped); got != RemoteTimeout {
		t.Fatalf("KindOf=%q want %q", got, RemoteTimeout)
	}
	if !errors.Is(wrapped, Of(RemoteTimeout)) {
		t.Fatal("errors.Is against bare kind sentinel failed")
	}
	if errors.Is(wrapped, Of(Remote)) {
		t.Fatal("matched the wrong kind")
	}
}

func TestKindOf_Untagged(t *testing.T) {
	if KindOf(nil) != KindUnknown {
		t.Fatal("nil must have no kind")
	}
	if KindOf(errors.New("boom")) != Internal {
		t.Fatal("untagged errors are internal")
	}
	if KindOf(fmt.Errorf("x: %w", context.DeadlineExceeded)) != RemoteTimeout {
		t.Fatal("deadline exceeded maps to remote timeout")
	}
}

func TestError_Message(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{E(Remote, "get_map", errors.New("status 500")), "get_map: remote_error: status 500"},
		{E(InvalidInput, "", errors.New("bad")), "invalid_input: bad"},
		{&Error{Kind: RenderingFailed, Op: "render"}, "render: rendering_failed"},
		{Of(NotFound), "not_found"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Fatalf("got %q want %q", got, c.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(E(RemoteTimeout, "count", nil)) || !Retryable(E(Remote, "count", nil)) {
		t.Fatal("remote failures are retryable")
	}
	if Retryable(E(InvalidInput, "validate", nil)) || Retryable(errors.New("x")) {
		t.Fatal("input and internal errors are not retryable")
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("quota exceeded")
	if !errors.Is(E(Remote, "get_thumbnail", cause), cause) {
		t.Fatal("cause lost")
	}
}
