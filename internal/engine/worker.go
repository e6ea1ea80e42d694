package engine

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// runWorker is the single background poll worker. It drains the tick
// queue sequentially so no two polls ever overlap, and survives any
// failure of an individual item.
func (e *Engine) runWorker() {
	defer close(e.workerDone)
	for {
		item, ok := e.queue.Dequeue()
		if !ok {
			return
		}
		e.pollOne(item)
		// Drop the reference before blocking on the next dequeue so a
		// removed connection is not kept alive by the worker.
		item.target = nil
	}
}

func (e *Engine) pollOne(item workItem) {
	uri := item.target.URI()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("Error polling connection '%s': %v", uri, r)
			details := fmt.Sprintf("%s\n\n%s", msg, debug.Stack())
			e.log.Error("poll panic", zap.String("uri", uri), zap.Any("panic", r))
			e.Async(func() { e.handleTickError(msg, details) })
		}
	}()

	if err := item.target.TickFromEngine(e.workerCtx, item.params); err != nil {
		msg := fmt.Sprintf("Error polling connection '%s': %v", uri, err)
		details := fmt.Sprintf("%s\n\nConnection URI is: %s\n%+v", msg, uri, err)
		e.Async(func() { e.handleTickError(msg, details) })
		return
	}
	// Stats land directly on VM records; refresh the UI snapshot.
	e.Async(e.publish)
}
