// Package notifications fans workflow state changes out to live subscribers.
//
// Hub keeps the subscriber registry; Publish delivers each event to every
// subscriber concurrently with a bounded timeout and drops subscribers whose
// delivery fails, so one dead websocket never blocks the rest. NtfySubscriber
// forwards selected events to an ntfy topic for push alerts.
package notifications
