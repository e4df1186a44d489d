package desktop

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"

	"pivotflow/internal/notifier"
	logx "pivotflow/pkg/logx"
)

type recordedCall struct {
	method string
	args   []interface{}
}

type fakeBus struct {
	calls  []recordedCall
	nextID uint32
	err    error
}

func (f *fakeBus) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, recordedCall{method: method, args: args})
	if f.err != nil {
		return &dbus.Call{Err: f.err}
	}
	switch method {
	case iface + ".GetServerInformation":
		return &dbus.Call{Body: []interface{}{"fake", "pivotflow", "1.0", "1.2"}}
	default:
		f.nextID++
		return &dbus.Call{Body: []interface{}{f.nextID}}
	}
}

func newWithFake(bus *fakeBus) *Notifier {
	n := New(Config{AppName: "test"}, logx.Nop())
	n.obj = bus
	return n
}

func TestRequestPermissionGrantedWhenServerAnswers(t *testing.T) {
	n := newWithFake(&fakeBus{})
	if n.Permission() != notifier.PermissionDefault {
		t.Fatalf("initial permission = %s", n.Permission())
	}
	if got := n.RequestPermission(context.Background()); got != notifier.PermissionGranted {
		t.Fatalf("RequestPermission = %s, want granted", got)
	}
}

func TestRequestPermissionDeniedOnError(t *testing.T) {
	n := newWithFake(&fakeBus{err: errors.New("no server")})
	if got := n.RequestPermission(context.Background()); got != notifier.PermissionDenied {
		t.Fatalf("RequestPermission = %s, want denied", got)
	}
}

func TestNotifyReplacesByTag(t *testing.T) {
	bus := &fakeBus{}
	n := newWithFake(bus)
	ctx := context.Background()

	_ = n.Notify(ctx, "Gas", "low", "gas-eth")
	_ = n.Notify(ctx, "Gas", "lower", "gas-eth")
	_ = n.Notify(ctx, "Floor", "drop", "")

	if len(bus.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(bus.calls))
	}
	replaces := func(i int) uint32 { return bus.calls[i].args[1].(uint32) }
	if replaces(0) != 0 {
		t.Fatalf("first notify replaces %d, want 0", replaces(0))
	}
	if replaces(1) != 1 {
		t.Fatalf("same tag should replace id 1, got %d", replaces(1))
	}
	if replaces(2) != 0 {
		t.Fatalf("untagged notify replaces %d, want 0", replaces(2))
	}
	if title := bus.calls[1].args[3].(string); title != "Gas" {
		t.Fatalf("title = %q", title)
	}
}

func TestNotifyReturnsBusError(t *testing.T) {
	n := newWithFake(&fakeBus{err: errors.New("gone")})
	if err := n.Notify(context.Background(), "t", "m", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestForgottenTagsStartFresh(t *testing.T) {
	bus := &fakeBus{}
	n := New(Config{AppName: "test", MaxTags: 2}, logx.Nop())
	n.obj = bus
	ctx := context.Background()

	for _, tag := range []string{"gas", "nft", "portfolio", "gas"} {
		if err := n.Notify(ctx, "t", "m", tag); err != nil {
			t.Fatalf("Notify(%s): %v", tag, err)
		}
	}
	if got := n.tags.Len(); got != 2 {
		t.Fatalf("remembered %d tags, want 2", got)
	}
	if replaces := bus.calls[3].args[1].(uint32); replaces != 0 {
		t.Fatalf("evicted tag replaced id %d, want 0", replaces)
	}
}
