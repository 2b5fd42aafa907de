// Package notify delivers cache lifecycle events to listeners.
//
// Listeners are called synchronously in registration order. A listener that fails or panics
// is logged and counted, and the remaining listeners still receive the event.
package notify
