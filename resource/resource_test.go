package resource_test

import (
	"errors"
	"testing"

	"github.com/hazyhaar/docconv/resource"
)

type closer struct {
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestForceCleanupClosesSessions(t *testing.T) {
	tr := resource.NewTracker(nil)
	a := &closer{}
	b := &closer{}
	tr.RegisterSession(a)
	tr.RegisterSession(b)
	tr.Register("/tmp/doc.pdf")

	tr.ForceCleanup()

	if a.closed != 1 || b.closed != 1 {
		t.Fatalf("sessions closed %d/%d times, want 1/1", a.closed, b.closed)
	}
	if got := tr.ActiveFiles(); len(got) != 0 {
		t.Fatalf("expected no active files after cleanup, got %v", got)
	}
}

func TestForceCleanupIdempotent(t *testing.T) {
	tr := resource.NewTracker(nil)
	c := &closer{}
	tr.RegisterSession(c)

	tr.ForceCleanup()
	tr.ForceCleanup()

	if c.closed != 1 {
		t.Fatalf("session closed %d times, want exactly 1", c.closed)
	}
}

func TestForceCleanupDoesNotStopOnError(t *testing.T) {
	tr := resource.NewTracker(nil)
	bad := &closer{err: errors.New("already closed")}
	good := &closer{}
	tr.RegisterSession(bad)
	tr.RegisterSession(good)

	tr.ForceCleanup() // must not panic or skip the second session

	if good.closed != 1 {
		t.Fatalf("good session closed %d times, want 1", good.closed)
	}
}

func TestRegisterNilSession(t *testing.T) {
	tr := resource.NewTracker(nil)
	tr.RegisterSession(nil)
	tr.ForceCleanup()
}
