package presence

import (
	"context"
	"time"

	"PRelay/module/relay/model"

	"go.uber.org/zap"
)

// Shared is the cluster-wide user -> handle table. Handle ids are unique across nodes.
type Shared interface {
	// Claim points userID at handleID. It returns the handle that owned it before ("" if none)
	// and the roster right after the change.
	Claim(ctx context.Context, userID, handleID string) (string, []string, error)
	// Release removes userID only while handleID still owns it, and returns the roster after.
	Release(ctx context.Context, userID, handleID string) (bool, []string, error)
	Owner(ctx context.Context, userID string) (string, bool, error)
	// Roster returns every online user, sorted.
	Roster(ctx context.Context) ([]string, error)
}

// Remote delivers a frame to a handle that may live on another node.
type Remote interface {
	SendTo(ctx context.Context, handleID string, env model.Envelope) error
}

// Directory answers "who is online and where" for the relay. Without a Shared table it is
// the node-local Registry; with one, the table is authoritative and handles on other nodes
// are reached through Remote.
type Directory struct {
	reg    *Registry
	shared Shared
	remote Remote
	log    *zap.Logger
}

type DirectoryOption func(*Directory)

// WithShared makes the directory cluster-wide.
func WithShared(shared Shared, remote Remote) DirectoryOption {
	return func(d *Directory) {
		d.shared = shared
		d.remote = remote
	}
}

func WithLogger(log *zap.Logger) DirectoryOption {
	return func(d *Directory) {
		if log != nil {
			d.log = log
		}
	}
}

func NewDirectory(reg *Registry, opts ...DirectoryOption) *Directory {
	d := &Directory{reg: reg, log: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	if d.shared != nil && d.remote == nil {
		panic("presence: shared directory needs a remote sender")
	}
	d.log = d.log.Named("directory")
	return d
}

func (d *Directory) Registry() *Registry { return d.reg }

// Lookup returns the handle that owns userID.
func (d *Directory) Lookup(ctx context.Context, userID string) (Handle, bool) {
	if d.shared == nil {
		return d.reg.Lookup(userID)
	}
	id, ok, err := d.shared.Owner(ctx, userID)
	if err != nil {
		d.log.Warn("shared owner lookup failed, using local view", zap.String("user", userID), zap.Error(err))
		return d.reg.Lookup(userID)
	}
	if !ok {
		return nil, false
	}
	if h, ok := d.reg.handle(id); ok {
		return h, true
	}
	return &remoteHandle{id: id, remote: d.remote}, true
}

func (d *Directory) IsOnline(ctx context.Context, userID string) bool {
	_, ok := d.Lookup(ctx, userID)
	return ok
}

// Roster returns the sorted online users.
func (d *Directory) Roster(ctx context.Context) []string {
	if d.shared == nil {
		return d.reg.Snapshot()
	}
	return d.roster(ctx, d.reg.Snapshot())
}

func (d *Directory) roster(ctx context.Context, local []string) []string {
	if d.shared == nil {
		return local
	}
	users, err := d.shared.Roster(ctx)
	if err != nil {
		d.log.Warn("shared roster failed, using local view", zap.Error(err))
		return local
	}
	return users
}

// claim records a local bind in the shared table. It reports whether the user was offline
// and the roster to announce.
func (d *Directory) claim(ctx context.Context, c Change) (bool, []string) {
	if d.shared == nil {
		return c.Fresh, c.Roster
	}
	prev, roster, err := d.shared.Claim(ctx, c.UserID, c.Handle.ID())
	if err != nil {
		d.log.Error("shared claim failed", zap.String("user", c.UserID), zap.Error(err))
		return c.Fresh, d.roster(ctx, c.Roster)
	}
	return prev == "", roster
}

// release drops a local slot from the shared table. It reports whether the user went offline,
// which is false when another handle on any node has taken the user over.
func (d *Directory) release(ctx context.Context, c Change) (bool, []string) {
	if d.shared == nil {
		return c.UserID != "", c.Roster
	}
	if c.UserID == "" {
		return false, d.roster(ctx, c.Roster)
	}
	ok, roster, err := d.shared.Release(ctx, c.UserID, c.Handle.ID())
	if err != nil {
		d.log.Error("shared release failed", zap.String("user", c.UserID), zap.Error(err))
		return true, d.roster(ctx, c.Roster)
	}
	return ok, roster
}

const remoteSendTimeout = 2 * time.Second

// remoteHandle is a handle owned by another node.
type remoteHandle struct {
	id     string
	remote Remote
}

func (h *remoteHandle) ID() string { return h.id }

func (h *remoteHandle) Send(env model.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), remoteSendTimeout)
	defer cancel()
	return h.remote.SendTo(ctx, h.id, env)
}
