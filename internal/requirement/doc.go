// Package requirement models what must be present before initialization may
// run: the mandatory singleton slots (a naming-context manager and a
// configuration source) and the host's policy for how many providers it waits
// for.
//
// The readiness gate only ever checks the slots. The Policy is evaluated by the
// host when it decides whether to fire readiness at all.
package requirement
