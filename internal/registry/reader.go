package registry

import (
	"context"

	"github.com/idregistry/idregistry/internal/account"
)

// Reader is the read side of the registry for collaborators that may reach it
// over a network and therefore have to deal with failures.
type Reader interface {
	Query(ctx context.Context, subject account.Address) (Record, error)
	Check(ctx context.Context, subject account.Address) (bool, error)
	TotalVerified(ctx context.Context) (int, error)
}

// Writer is the mutating side of the registry as seen by collaborators.
type Writer interface {
	Submit(ctx context.Context, caller account.Address, identityHash string) (Event, error)
}

// Local adapts an in-process Registry to Reader and Writer.
type Local struct {
	reg *Registry
}

// NewLocal wraps reg.
func NewLocal(reg *Registry) *Local {
	return &Local{reg: reg}
}

func (l *Local) Query(ctx context.Context, subject account.Address) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	return l.reg.Query(subject), nil
}

func (l *Local) Check(ctx context.Context, subject account.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.reg.Check(subject), nil
}

func (l *Local) TotalVerified(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.reg.TotalVerified(), nil
}

func (l *Local) Submit(ctx context.Context, caller account.Address, identityHash string) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	return l.reg.Submit(caller, identityHash)
}
