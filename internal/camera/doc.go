// Package camera owns the locker camera feed.
//
// A single Broker goroutine holds the Source, reads JPEG frames, validates
// them and publishes the newest one into a lock-free slot. Readers never
// block the broker: Latest returns the current frame, Next waits for a frame
// newer than a sequence number, and ServeStream rewrites frames as a
// multipart/x-mixed-replace response. Any source failure closes the stream
// and reopens it after a capped exponential backoff; the broker only exits
// when its context is cancelled.
package camera
