// Package occlient - Remote-operation template
//
// A remote operation is one unit of server interaction: it receives a
// configured client, issues one or more requests through it and translates
// the outcome into a Result. The Executor resolves the client from an
// account through a pool and runs operations synchronously on the caller's
// goroutine or asynchronously on a goroutine per invocation, delivering the
// result through a channel and, optionally, a completion callback posted
// through a caller-supplied dispatcher.
package occlient

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Operation is a single unit of server interaction. Run must return a
// non-nil Result and must not panic on transport failures; it classifies
// them into the result instead.
type Operation interface {
	Run(ctx context.Context, client *Client) *Result
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(ctx context.Context, client *Client) *Result

// Run implements Operation.
func (f OperationFunc) Run(ctx context.Context, client *Client) *Result {
	return f(ctx, client)
}

// Dispatcher posts a completion callback onto an execution context of the
// caller's choosing, decoupling delivery from the worker goroutine. A nil
// dispatcher calls the callback inline on the worker.
type Dispatcher func(fn func())

// Executor runs operations against clients resolved from a pool.
type Executor struct {
	pool ClientPool
	log  logrus.FieldLogger
}

// NewExecutor returns an executor resolving clients from the pool. Pass nil
// opts for defaults.
func NewExecutor(pool ClientPool, opts *Options) *Executor {
	opts = opts.withDefaults()
	return &Executor{pool: pool, log: opts.Logger}
}

// Execute resolves a client for the account and runs the operation on the
// calling goroutine. Failures, including the client resolution itself,
// come back as a Result, never as an error.
func (e *Executor) Execute(ctx context.Context, account *Account, op Operation) *Result {
	client, err := e.pool.ClientFor(ctx, account)
	if err != nil {
		e.log.WithError(err).WithField("account", account.Name).
			Debug("client resolution failed")
		return ResultFromError(err)
	}
	return e.ExecuteOn(ctx, client, op)
}

// ExecuteOn runs the operation against an already resolved client on the
// calling goroutine.
func (e *Executor) ExecuteOn(ctx context.Context, client *Client, op Operation) *Result {
	result := op.Run(ctx, client)
	if result == nil {
		result = NewResult(UnknownError)
	}
	result.setRedirectedLocation(client.RedirectedLocation())

	e.log.WithFields(logrus.Fields{
		"success": result.IsSuccess(),
		"code":    result.Code(),
		"http":    result.HTTPCode(),
	}).Debug(result.LogMessage())
	return result
}

// Go resolves a client and runs the operation on a new goroutine. The
// result arrives on the returned buffered channel; when onDone is non-nil
// it is additionally invoked with the result, posted through the dispatcher
// when one is supplied and called from the worker otherwise.
func (e *Executor) Go(ctx context.Context, account *Account, op Operation, onDone func(*Result), d Dispatcher) <-chan *Result {
	out := make(chan *Result, 1)
	go func() {
		result := e.Execute(ctx, account, op)
		out <- result
		if onDone == nil {
			return
		}
		if d != nil {
			d(func() { onDone(result) })
			return
		}
		onDone(result)
	}()
	return out
}
