package ambient

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nalgeon/be"
)

func TestCloneIsolation(t *testing.T) {
	base := Info{KeyUser: "alice", KeySite: "intranet"}

	var wg sync.WaitGroup
	clones := make([]Info, 8)
	for i := range clones {
		clones[i] = base.Clone()
	}
	for i := range clones {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clones[i][KeySite] = string(rune('a' + i))
		}(i)
	}
	wg.Wait()

	be.Equal(t, base[KeySite], "intranet")
	for i := range clones {
		be.Equal(t, clones[i].Site(), string(rune('a'+i)))
		be.Equal(t, clones[i].User(), "alice")
	}
}

func TestCloneNil(t *testing.T) {
	var info Info
	c := info.Clone()
	be.True(t, c != nil)
	be.Equal(t, len(c), 0)
}

func TestWith(t *testing.T) {
	base := Info{KeyUser: "alice"}
	next := base.With(KeyUser, "bob")
	be.Equal(t, base.User(), "alice")
	be.Equal(t, next.User(), "bob")
}

func TestWithInfoRejectsReinit(t *testing.T) {
	ctx, err := WithInfo(context.Background(), Info{KeyUser: "alice"})
	be.Err(t, err, nil)
	be.True(t, IsInitialized(ctx))

	_, err = WithInfo(ctx, Info{KeyUser: "mallory"})
	be.True(t, errors.Is(err, ErrAlreadyInitialized))
	be.Equal(t, FromContext(ctx).User(), "alice")

	ctx = Without(ctx)
	be.True(t, !IsInitialized(ctx))
	ctx, err = WithInfo(ctx, Info{KeyUser: "bob"})
	be.Err(t, err, nil)
	be.Equal(t, FromContext(ctx).User(), "bob")
}

func TestFromContextReturnsClone(t *testing.T) {
	ctx, err := WithInfo(context.Background(), Info{KeyUser: "alice"})
	be.Err(t, err, nil)

	got := FromContext(ctx)
	got[KeyUser] = "changed"
	be.Equal(t, FromContext(ctx).User(), "alice")
}

func TestFromContextEmpty(t *testing.T) {
	info := FromContext(context.Background())
	be.Equal(t, len(info), 0)
	be.True(t, !IsInitialized(context.Background()))
}
