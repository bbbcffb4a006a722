package core

import (
	"context"
	"sync"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
)

// AsyncClient provides asynchronous concept graph operations.
//
// It wraps any storage.Adapter, local or remote, and executes operations in
// separate goroutines. All async methods return channels that receive
// exactly one result and are then closed. Wait blocks until every started
// operation has finished.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(ctx, config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.LearnAsync(ctx, "Dogs are mammals", core.WithRelationHint("Mammal"))
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	storage.Adapter
	wg sync.WaitGroup
}

// NewAsyncClient opens the adapter selected by cfg.Mode and wraps it.
func NewAsyncClient(ctx context.Context, cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	adapter, err := OpenAdapter(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return WrapAsync(adapter), nil
}

// WrapAsync wraps an existing adapter. Closing the AsyncClient closes it.
func WrapAsync(adapter storage.Adapter) *AsyncClient {
	return &AsyncClient{Adapter: adapter}
}

// LearnResult is the outcome of LearnAsync.
type LearnResult struct {
	Result *graph.ItemResult
	Error  error
}

// BatchResult is the outcome of LearnBatchAsync.
type BatchResult struct {
	Result *graph.BatchResult
	Error  error
}

// AskResult is the outcome of AskAsync. Paths may be set together with
// Error when the search was cut short.
type AskResult struct {
	Paths []graph.ReasoningPath
	Error error
}

// SearchResult is the outcome of SearchAsync.
type SearchResult struct {
	Concepts []graph.ScoredConcept
	Error    error
}

// LearnAsync learns content asynchronously.
func (ac *AsyncClient) LearnAsync(ctx context.Context, content string, opts ...LearnOption) <-chan *LearnResult {
	resultChan := make(chan *LearnResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		res, err := ac.Learn(ctx, NewLearnItem(content, opts...))
		resultChan <- &LearnResult{Result: res, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// LearnBatchAsync learns items asynchronously. Per-item failures are in the
// result; Error is reserved for failures of the adapter.
func (ac *AsyncClient) LearnBatchAsync(ctx context.Context, items []graph.LearnItem) <-chan *BatchResult {
	resultChan := make(chan *BatchResult, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		res, err := ac.LearnBatch(ctx, items)
		resultChan <- &BatchResult{Result: res, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// AskAsync runs a reasoning query asynchronously.
func (ac *AsyncClient) AskAsync(ctx context.Context, query string, opts ...AskOption) <-chan *AskResult {
	resultChan := make(chan *AskResult, 1)
	ac.wg.Add(1)
	o := applyAskOptions(opts)

	go func() {
		defer ac.wg.Done()
		paths, err := ac.Ask(ctx, query, o.MaxPaths, o.MaxDepth)
		resultChan <- &AskResult{Paths: paths, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// SearchAsync ranks concepts asynchronously.
func (ac *AsyncClient) SearchAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *SearchResult {
	resultChan := make(chan *SearchResult, 1)
	ac.wg.Add(1)
	o := applySearchOptions(opts)

	go func() {
		defer ac.wg.Done()
		concepts, err := ac.SearchConcepts(ctx, query, o.Limit)
		resultChan <- &SearchResult{Concepts: concepts, Error: err}
		close(resultChan)
	}()

	return resultChan
}

// Wait waits for all started async operations to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations and closes the adapter.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Adapter.Close()
}
