// Package pipeline runs the per-call processing chain over the speech and
// conversation collaborators. Frames for one call are processed strictly in
// arrival order on that call's session worker; independent calls run
// concurrently. A failed conversation exchange speaks a one-time fallback
// reply, and all other stage failures are contained to the frame that
// caused them.
package pipeline
