// Package ambient carries request-scoped values (caller identity, site,
// outbound headers) from the edge of the service down to job execution.
//
// Values are passed explicitly as an Info snapshot. Each worker gets its
// own Clone so concurrent jobs never observe each other's changes.
package ambient

import (
	"context"
	"errors"
	"maps"
)

const (
	KeyUser           = "user"
	KeySite           = "site"
	KeyRequestID      = "request_id"
	KeyUserAgent      = "user_agent"
	KeyAcceptLanguage = "accept_language"
	KeyAuthorization  = "authorization"
)

// ErrAlreadyInitialized is returned when a context already carries an Info.
var ErrAlreadyInitialized = errors.New("ambient info already initialized")

// Info is a snapshot of request-scoped values.
type Info map[string]string

// Clone returns an independent copy. Cloning a nil Info yields an empty one.
func (i Info) Clone() Info {
	if i == nil {
		return Info{}
	}
	return maps.Clone(i)
}

func (i Info) Get(key string) string {
	return i[key]
}

// With returns a copy of i with key set to value.
func (i Info) With(key, value string) Info {
	c := i.Clone()
	c[key] = value
	return c
}

func (i Info) User() string { return i[KeyUser] }
func (i Info) Site() string { return i[KeySite] }

type infoKey struct{}

// WithInfo installs a clone of info on ctx. It refuses to overwrite an
// Info that is already installed; call Without first to reset.
func WithInfo(ctx context.Context, info Info) (context.Context, error) {
	if IsInitialized(ctx) {
		return ctx, ErrAlreadyInitialized
	}
	return context.WithValue(ctx, infoKey{}, info.Clone()), nil
}

// Without returns a context on which no Info is installed.
func Without(ctx context.Context) context.Context {
	if !IsInitialized(ctx) {
		return ctx
	}
	return context.WithValue(ctx, infoKey{}, Info(nil))
}

func IsInitialized(ctx context.Context) bool {
	info, _ := ctx.Value(infoKey{}).(Info)
	return info != nil
}

// FromContext returns a clone of the installed Info, or an empty Info.
func FromContext(ctx context.Context) Info {
	info, _ := ctx.Value(infoKey{}).(Info)
	return info.Clone()
}
