// Package event provides a pub-sub event bus for decoupled inter-component
// communication in quorum.
//
// The orchestration engine publishes an event on every node transition so
// that external consumers (console display, UI streaming, audit logging)
// can follow a session's progress without a direct dependency on the
// engine. Consumers must tolerate at-least-once delivery: a node that is
// re-run after a crash re-emits its transition event.
//
// # Main Types
//
//   - [Event]: interface all events implement, providing EventType() and Timestamp()
//   - [Bus]: synchronous pub-sub event dispatcher, safe for concurrent use
//   - [Handler]: function type for event handlers (func(Event))
//
// # Event Categories
//
// Session lifecycle:
//   - [SessionStartedEvent], [SessionPausedEvent], [SessionResumedEvent]
//   - [SessionKilledEvent]: emitted on an authorized kill, with actor and reason
//   - [SessionCompletedEvent]: emitted on any terminal transition
//
// Deliberation progress:
//   - [NodeTransitionEvent]: emitted after every graph node execution
//   - [RoundCompletedEvent]: emitted when a discussion round finishes
//   - [ConvergenceEvent]: emitted with each round's convergence metrics
//   - [SubProblemCompletedEvent]: emitted when the iterator advances
//
// Safety:
//   - [BudgetExceededEvent]: emitted when the cost kill switch fires
//   - [CheckpointWrittenEvent]: emitted after each durable snapshot
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously and protected against panics - a panicking handler will
// not prevent other handlers from being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	bus.Subscribe("node.transition", func(e event.Event) {
//	    nt := e.(event.NodeTransitionEvent)
//	    log.Printf("session %s entered %s", nt.SessionID, nt.Node)
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - session.started, session.paused, session.resumed, session.killed, session.completed
//   - node.transition, round.completed, convergence.evaluated, subproblem.completed
//   - budget.exceeded, checkpoint.written
package event
