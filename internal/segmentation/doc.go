// Package segmentation evaluates user-authored segment rules against leads
// and keeps dynamic segment memberships in sync with them.
//
// The Rule Evaluator (Compile, Evaluate, MatchingIDs) is pure and safe for
// concurrent use. The Engine owns membership state: it diffs the evaluated
// set against stored memberships and applies only the changes, holding a
// per-segment lock so two recomputations of one segment never interleave.
//
// Repository implementations live in repository/postgres/.
package segmentation
