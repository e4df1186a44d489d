// Package desktop delivers system notifications over the freedesktop
// notification service on the session D-Bus.
package desktop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"pivotflow/internal/notifier"
	logx "pivotflow/pkg/logx"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface      = "org.freedesktop.Notifications"
)

type Config struct {
	AppName string
	Icon    string
	// Timeout is the display time; zero lets the server decide.
	Timeout time.Duration
	// Permission pre-seeds the permission state. "default" asks the
	// notification server at startup.
	Permission notifier.Permission
	// MaxTags caps the remembered group tags; 0 means MaxNotifications.
	MaxTags int
}

// caller is the part of dbus.BusObject the notifier needs.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier implements notifier.SystemNotifier and notifier.PermissionRequester.
// Tags map to the id of the last notification with that tag, which is passed
// as replaces_id so the server updates it in place.
type Notifier struct {
	log logx.Logger
	cfg Config

	mu   sync.Mutex
	conn *dbus.Conn
	obj  caller
	perm notifier.Permission
	tags *notifier.TagCache[uint32]
}

func New(cfg Config, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.AppName == "" {
		cfg.AppName = "PivotFlow"
	}
	perm := cfg.Permission
	if perm == "" {
		perm = notifier.PermissionDefault
	}
	return &Notifier{
		log:  log.With(logx.String("comp", "desktop")),
		cfg:  cfg,
		perm: perm,
		tags: notifier.NewTagCache[uint32](cfg.MaxTags),
	}
}

func (n *Notifier) Permission() notifier.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.perm
}

// RequestPermission is granted when the notification server answers
// GetServerInformation, and denied otherwise.
func (n *Notifier) RequestPermission(ctx context.Context) notifier.Permission {
	obj, err := n.object()
	if err == nil {
		var name, vendor, version, spec string
		err = obj.CallWithContext(ctx, iface+".GetServerInformation", 0).Store(&name, &vendor, &version, &spec)
		if err == nil {
			n.log.Info("notification server found", logx.String("server", name), logx.String("version", version))
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.log.Warn("notification server unavailable", logx.Err(err))
		n.perm = notifier.PermissionDenied
	} else {
		n.perm = notifier.PermissionGranted
	}
	return n.perm
}

func (n *Notifier) Notify(ctx context.Context, title, message, tag string) error {
	obj, err := n.object()
	if err != nil {
		return err
	}
	replaces, _ := n.tags.Get(tag)

	timeout := int32(-1)
	if n.cfg.Timeout > 0 {
		timeout = int32(n.cfg.Timeout.Milliseconds())
	}
	hints := map[string]dbus.Variant{}
	if tag != "" {
		hints["x-pivotflow-tag"] = dbus.MakeVariant(tag)
	}

	var id uint32
	call := obj.CallWithContext(ctx, iface+".Notify", 0,
		n.cfg.AppName, replaces, n.cfg.Icon, title, message, []string{}, hints, timeout)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("desktop notify: %w", err)
	}
	if tag != "" {
		n.tags.Put(tag, id)
	}
	return nil
}

// object connects lazily. The connection outlives any single call, so it is
// not bound to a caller's context.
func (n *Notifier) object() (caller, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.obj != nil {
		return n.obj, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	n.conn = conn
	n.obj = conn.Object(busName, objectPath)
	return n.obj, nil
}

func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	n.obj = nil
	return err
}
