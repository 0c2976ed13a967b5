package alarms

import "errors"

// ErrDismissFailed indicates the dismissal could not be persisted; the alert stays active.
var ErrDismissFailed = errors.New("alarm: dismiss not persisted")
