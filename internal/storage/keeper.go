package storage

import (
	"context"
	"fmt"

	"stoerbot/internal/disruption"
	logx "stoerbot/pkg/logx"
)

// Keeper wraps a Store so that persistence problems never stop a pass.
//
// Load falls back to an empty state on any failure; Save reports success as
// a bool and logs the error.
type Keeper struct {
	store Store
	log   logx.Logger
}

func NewKeeper(store Store, log logx.Logger) *Keeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Keeper{store: store, log: log.With(logx.String("comp", "state"))}
}

func (k *Keeper) Driver() string {
	if k == nil || k.store == nil {
		return "none"
	}
	return k.store.Driver()
}

func (k *Keeper) Load(ctx context.Context) (st *disruption.KnownState) {
	if k == nil || k.store == nil {
		return disruption.NewKnownState()
	}
	defer func() {
		if r := recover(); r != nil {
			k.log.Error("state load panicked; starting empty", logx.String("panic", fmt.Sprint(r)))
			st = disruption.NewKnownState()
		}
	}()

	st, err := k.store.Load(ctx)
	if err != nil {
		k.log.Warn("state load failed; starting empty", logx.Err(err))
		return disruption.NewKnownState()
	}
	if st == nil {
		return disruption.NewKnownState()
	}
	k.log.Info("state loaded", logx.Int("notices", st.Len()))
	return st
}

func (k *Keeper) Save(ctx context.Context, st *disruption.KnownState) (ok bool) {
	if k == nil || k.store == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			k.log.Error("state save panicked", logx.String("panic", fmt.Sprint(r)))
			ok = false
		}
	}()

	if err := k.store.Save(ctx, st); err != nil {
		k.log.Error("state save failed", logx.Err(err), logx.Int("notices", st.Len()))
		return false
	}
	return true
}

func (k *Keeper) Close() error {
	if k == nil || k.store == nil {
		return nil
	}
	return k.store.Close()
}
