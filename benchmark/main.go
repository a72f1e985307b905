// Package main measures expiry scheduling throughput against Redis.
// It dispatches expiry messages for synthetic tasks and waits until a
// running worker has drained the queue. The tasks do not exist in the task
// table, so the worker discards every message after one lookup.
//
// Usage:
//
//	go run ./benchmark -tasks 100000 -spread 10s
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/expiry"
	"github.com/guido-cesarano/taskexpiry/pkg/queue"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
	"github.com/rs/zerolog"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to schedule")
	numWorkers := flag.Int("workers", 10, "Number of concurrent dispatchers")
	spread := flag.Duration("spread", 0, "Spread deadlines over this window from now")
	addr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	q := queue.NewRedisQueue(*addr, zerolog.Nop())
	defer q.Close()
	d := expiry.NewDispatcher(q, nil, zerolog.Nop())
	ctx := context.Background()

	fmt.Printf("Expiry Benchmark\n")
	fmt.Printf("================\n")
	fmt.Printf("Tasks to schedule: %d\n", *numTasks)
	fmt.Printf("Concurrent dispatchers: %d\n\n", *numWorkers)

	fmt.Printf("Starting dispatch phase...\n")
	startDispatch := time.Now()

	var wg sync.WaitGroup
	var dispatched atomic.Int64
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				now := time.Now()
				task := tasks.New(fmt.Sprintf("bench-%d", workerID), "", "benchmark", now.Format(time.DateOnly), now)
				task.Deadline = now.UnixMilli()
				if *spread > 0 {
					task.Deadline += int64(j) * spread.Milliseconds() / int64(tasksPerWorker)
				}
				if err := d.Dispatch(ctx, task); err != nil {
					fmt.Printf("Error dispatching: %v\n", err)
					return
				}
				dispatched.Add(1)
			}
		}(i)
	}

	wg.Wait()
	dispatchTime := time.Since(startDispatch)

	fmt.Printf("Dispatched %d messages in %s\n", dispatched.Load(), dispatchTime)
	fmt.Printf("  Throughput: %.2f messages/sec\n\n", float64(dispatched.Load())/dispatchTime.Seconds())

	fmt.Printf("Waiting for the worker to drain the queue...\n")
	startProcess := time.Now()

	for {
		depths := q.Depths(ctx)
		remaining := depths["ready"] + depths["delayed"] + depths["inflight"]
		if remaining == 0 {
			break
		}

		time.Sleep(2 * time.Second)
		fmt.Printf("  Remaining: %d messages\n", remaining)
	}

	processTime := time.Since(startProcess)

	fmt.Printf("\nAll messages consumed in %s\n", processTime)
	if dead := q.Depths(ctx)["dead"]; dead > 0 {
		fmt.Printf("  Dead-lettered: %d messages\n", dead)
	}
	fmt.Printf("  Throughput: %.2f messages/sec\n", float64(dispatched.Load())/processTime.Seconds())

	totalTime := dispatchTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
}
