// Package workflow drives processing jobs through their registered handlers.
//
// The Manager runs a single polling loop: it takes the oldest pending job whose
// type has a handler, marks it active, executes the handler under a context
// carrying the job, video and a fresh correlation id, then records the job as
// completed or failed. Handlers chain the pipeline by enqueueing the next job
// type themselves, so within one video the stages run strictly in order while
// across videos the oldest pending job always runs next.
//
// Jobs left active by a crash are returned to pending when the loop starts.
package workflow
