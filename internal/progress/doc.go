// Package progress decodes the task-progress stream and feeds typed
// events to dashboard consumers.
//
// Stream binds a connection.Manager to an EventHandler; Poller fetches
// the same events over REST while the live connection is down.
package progress
