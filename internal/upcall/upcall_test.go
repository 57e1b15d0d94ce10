package upcall

import (
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/aofs/aofs/internal/engine"
)

func TestToPath(t *testing.T) {
	cases := map[string]string{
		"":    "/",
		"a":   "/a",
		"big": "/big",
	}
	for name, want := range cases {
		if got := toPath(name); got != want {
			t.Errorf("toPath(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		kind engine.Kind
		want fuse.Status
	}{
		{engine.NoSuchEntry, fuse.ENOENT},
		{engine.AccessDenied, fuse.EACCES},
		{engine.ContainerIoError, fuse.EIO},
	}
	for _, c := range cases {
		err := &engine.Error{Kind: c.kind, Op: "op", Path: "/x"}
		if got := status(err); got != c.want {
			t.Errorf("status(kind=%v) = %v, want %v", c.kind, got, c.want)
		}
	}
	if status(nil) != fuse.OK {
		t.Errorf("status(nil) should be OK")
	}
}
