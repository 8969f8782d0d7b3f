package mirror

import (
	"context"
	"fmt"

	"github.com/idregistry/idregistry/internal/registry"
)

// Projector feeds relay batches into the mirror and stores its position in
// the mirror repository under name.
type Projector struct {
	svc  *Service
	name string
}

// NewProjector builds a projector. name keys the persisted cursor.
func NewProjector(svc *Service, name string) *Projector {
	return &Projector{svc: svc, name: name}
}

func (p *Projector) Name() string { return "mirror" }

func (p *Projector) Handle(ctx context.Context, events []registry.Event) error {
	for _, ev := range events {
		if err := p.svc.Apply(ctx, ev); err != nil {
			return fmt.Errorf("apply event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

func (p *Projector) Load(ctx context.Context) (uint64, error) {
	return p.svc.repo.LoadCursor(ctx, p.name)
}

func (p *Projector) Save(ctx context.Context, seq uint64) error {
	return p.svc.repo.SaveCursor(ctx, p.name, seq)
}
