// Package testutil provides shared test utilities for novelsync.
//
// # Fixtures
//
// The fixtures.go file provides sample data for testing:
//
//   - SampleTasks() - tasks of one session in different states
//   - SamplePendingTask(), SampleSelectionTask() - approval candidates
//   - SampleSteps(taskID) - step events of one generation
//   - SampleProgress() - a mid-session progress record
//
// # Protocol client
//
// The wsclient.go file provides a raw websocket client for driving the
// scripted backend: DialWS, SendEvent, Read and ReadUntil.
//
// # Assertions
//
//   - AssertTaskStatus(t, tasks, id, status) - one task's status
//   - AssertTaskIDs(t, tasks, ids...) - task order
//   - AssertProgressCounts(t, p, total, completed, failed)
//   - AssertHistoryKinds(t, entries, kinds...) - history, newest first
//   - AssertEventsInOrder(t, frames, events...) - frame subsequence
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    c := testutil.DialWS(t, testutil.WebSocketURL(srv))
//	    c.SendEvent("start", testutil.SampleSessionID, nil)
//	    frames := c.ReadUntil("completed")
//	    testutil.AssertEventsInOrder(t, frames, "started", "task_start", "completed")
//	}
package testutil
