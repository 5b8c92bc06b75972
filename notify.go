package storefront

import "errors"

// NotificationKind tells the UI how to present a message
type NotificationKind int

const (
	NotifySuccess NotificationKind = iota
	NotifyError
)

// Notification is a user-facing message produced from an outcome
type Notification struct {
	Kind    NotificationKind
	Message string
}

// NotificationBridge surfaces messages to the user, e.g. as toasts
type NotificationBridge interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to NotificationBridge
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// NotificationFor maps a mutation result to a notification. Validation
// failures and superseded responses produce none.
func NotificationFor(outcome Outcome, err error) (Notification, bool) {
	if err == nil {
		if outcome.Message == "" {
			return Notification{}, false
		}
		return Notification{Kind: NotifySuccess, Message: outcome.Message}, true
	}

	var verr *ValidationError
	if errors.As(err, &verr) || errors.Is(err, ErrStaleResponse) {
		return Notification{}, false
	}
	return Notification{Kind: NotifyError, Message: MessageOf(err)}, true
}

// EntryNotification maps an errored cache entry to a notification
func EntryNotification(e Entry) (Notification, bool) {
	if e.Status != StatusError {
		return Notification{}, false
	}
	return Notification{Kind: NotifyError, Message: e.Err}, true
}
