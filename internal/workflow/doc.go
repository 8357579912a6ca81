// Package workflow drives queue entries through the analysis and report
// stages.
//
// The Manager runs two independent lanes. The analysis lane runs
// dispatch.workers goroutines that claim queued entries, hand them to the
// analysis stage and record the outcome (Complete, or Fail with the
// permanent flag taken from the error class). The report lane runs
// report.workers goroutines that claim analyzed entries, render their
// reports and mark them reported. Both lanes poll the store when idle and
// back off after store errors. A corrupt queue document halts the manager:
// every worker exits and Err returns the cause.
//
// Stages never touch the store; the manager owns every transition.
package workflow
