// Package sandbox manages the isolated execution environments of the judge.
//
// # Sandbox
//
// A Sandbox is a handle on one isolation-runtime instance plus the request it
// currently serves. It is owned by the Pool while idle and by exactly one
// pipeline run while busy.
//
// # Runner
//
// The Runner executes one command inside a sandbox. The runtime only offers a
// poll-based "is it still running" signal, so Run is a timer-driven state
// machine with three outcomes (exit 0, exit non-zero, timeout) and one error
// exit (persistent inspect failure). A timed-out sandbox is tainted and must be
// discarded, never recycled.
//
// # Pool
//
// The Pool keeps one idle list per flavor. Release never puts a used sandbox
// back: it destroys it and, while the idle list is below capacity, provisions a
// fresh seeded replacement in the background.
//
//	pool := sandbox.NewPool(rt, runner, sandbox.Options{
//	    Capacity: map[domain.Flavor]int{domain.Plain: 2},
//	})
//	sb, err := pool.Acquire(ctx, domain.Plain, req.ID, req.Payload())
//	if err != nil {
//	    return err
//	}
//	defer pool.Release(sb)
package sandbox
