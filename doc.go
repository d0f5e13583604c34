// Package accounts implements a multi-role account registry whose core is
// the pending-approval workflow: self-registered accounts start pending and
// an administrator decision moves them through the lifecycle before any
// access is granted.
//
// Account lifecycle:
//   - Accounts carry an AccountStatus field that is persisted via Bun.
//     Statuses cover pending, approved, rejected, and inactive flows; a
//     rejection or deactivation is never a dead end, every state stays
//     reachable by administrator action.
//   - AccountStateMachine centralizes the transition graph, the actor
//     authorization rules (capability plus role rank), decision metadata
//     stamping, hooks, and persistence. Invoke Transition with ActorRef
//     metadata whenever an administrator moves an account.
//
// Roles and authorization:
//   - The role catalog (student, instructor, coordinator, manager, admin)
//     maps each role to its default permission grants and to the set of
//     roles it may manage. Authorize evaluates an account snapshot against
//     the access policy in a fixed order: email verification, approval
//     status, then the administrative active flag.
//
// Bootstrap provisioning:
//   - EnsureBootstrapAdmin guarantees a reserved administrator account
//     exists on startup, recovering from partially failed prior runs. The
//     record it creates is protected: lifecycle operations refuse to touch
//     it.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the service and
//     the state machine to describe registration, lifecycle, and login
//     events. Sinks run best-effort (errors are logged) so you can forward
//     to a database or queue without blocking account operations.
package accounts
