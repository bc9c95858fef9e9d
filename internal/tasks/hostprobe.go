package tasks

import (
	"context"

	"github.com/embygate/emby-gate/internal/emby"
)

// HostProbe keeps the host connection warm: a reachability ping plus a
// server-id refresh, so synthetic payloads always carry a current ServerId.
type HostProbe struct {
	Host *emby.Client
}

func (p *HostProbe) Name() string { return "host-probe" }

func (p *HostProbe) Run(ctx context.Context, emit func(Event)) error {
	units := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"ping", p.Host.Ping},
		{"server-id", func(ctx context.Context) error {
			_, err := p.Host.ServerID(ctx)
			return err
		}},
	}
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.fn(ctx); err != nil {
			emit(Event{Task: p.Name(), Kind: EventUnitFailed, Unit: u.name, Err: err})
			continue
		}
		emit(Event{Task: p.Name(), Kind: EventUnitDone, Unit: u.name})
	}
	return nil
}
