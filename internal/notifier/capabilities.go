package notifier

import "context"

// Permission is the state of the system notification capability.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission maps config strings to a Permission. Unknown values map to
// PermissionDefault.
func ParsePermission(s string) Permission {
	switch Permission(s) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	default:
		return PermissionDefault
	}
}

// SoundPlayer plays the notification sound from the start, cutting off any
// playback still in progress.
type SoundPlayer interface {
	Play(ctx context.Context) error
}

// SystemNotifier emits an OS or chat level notification. Notifications that
// share a non-empty tag replace one another.
type SystemNotifier interface {
	Permission() Permission
	Notify(ctx context.Context, title, message, tag string) error
}

// PermissionRequester is implemented by notifiers that can ask for permission.
// It is called at most once, when the service starts.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) Permission
}
