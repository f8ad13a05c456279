package infrahub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// BatchTask is one unit of work executed by a Batch.
type BatchTask func(ctx context.Context) (any, error)

// BatchResult carries the outcome of one task. TaskID identifies the task
// it belongs to and Node is the node the task was registered with, if any,
// so results arriving in completion order can be correlated with their
// inputs.
type BatchResult struct {
	TaskID string
	Node   *Node
	Result any
	Err    error
}

// Batch runs tasks concurrently, bounded by the client's configured
// maximum concurrent execution.
//
// With returnExceptions, a task failure is delivered as a result and the
// remaining tasks keep running. Without it, the first failure cancels the
// remaining tasks and is delivered as the final result before the channel
// closes.
type Batch struct {
	client           *Client
	returnExceptions bool

	mu    sync.Mutex
	tasks []batchTask
}

type batchTask struct {
	id   string
	node *Node
	fn   BatchTask
}

// NewBatch returns an empty batch bound to the client's concurrency limit.
func (c *Client) NewBatch(returnExceptions bool) *Batch {
	return &Batch{client: c, returnExceptions: returnExceptions}
}

// Add registers a task and returns its id. node may be nil; both it and
// the id are echoed back on the task's result.
func (b *Batch) Add(node *Node, fn BatchTask) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, batchTask{id: id, node: node, fn: fn})
	return id
}

// AddSave registers a Save call for the node, delivering the node itself as
// the task result.
func (b *Batch) AddSave(node *Node, allowUpsert bool) string {
	return b.Add(node, func(ctx context.Context) (any, error) {
		if err := node.Save(ctx, allowUpsert); err != nil {
			return nil, err
		}
		return node, nil
	})
}

// AddDelete registers a Delete call for the node.
func (b *Batch) AddDelete(node *Node) string {
	return b.Add(node, func(ctx context.Context) (any, error) {
		if err := node.Delete(ctx); err != nil {
			return nil, err
		}
		return node, nil
	})
}

// Len returns the number of registered tasks.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Execute runs all registered tasks and streams their results in
// completion order. The channel closes once every task has finished or,
// without returnExceptions, once the first failure has been delivered.
func (b *Batch) Execute(ctx context.Context) <-chan BatchResult {
	b.mu.Lock()
	tasks := make([]batchTask, len(b.tasks))
	copy(tasks, b.tasks)
	b.mu.Unlock()

	results := make(chan BatchResult, len(tasks)+1)

	sem := semaphore.NewWeighted(int64(b.client.config.MaxConcurrentExecution))
	g, gctx := errgroup.WithContext(ctx)

	go func() {
		defer close(results)

		for _, task := range tasks {
			task := task
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					if b.returnExceptions {
						results <- BatchResult{TaskID: task.id, Node: task.node, Err: err}
						return nil
					}
					return err
				}
				defer sem.Release(1)

				value, err := task.fn(gctx)
				if err != nil {
					if !b.returnExceptions {
						return err
					}
					results <- BatchResult{TaskID: task.id, Node: task.node, Err: err}
					return nil
				}

				results <- BatchResult{TaskID: task.id, Node: task.node, Result: value}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			results <- BatchResult{Err: err}
		}
	}()

	return results
}
