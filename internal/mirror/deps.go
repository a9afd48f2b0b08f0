package mirror

import (
	"log/slog"

	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/reconcile"
	"github.com/Harry0M/oikos-sub001/internal/relay"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

// Deps are the collaborators shared by both mirrors of one session.
type Deps struct {
	Identity models.Identity
	Store    storage.LedgerStore
	Mailbox  relay.Mailbox
	Outbox   *Outbox
	Guard    *reconcile.Guard
	Logger   *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) senderName(name string) string {
	if name != "" {
		return name
	}
	if d.Identity.DisplayName != "" {
		return d.Identity.DisplayName
	}
	return relay.UnknownSender
}
