package pipeline

import (
	"runtime"
	"sync"
)

// defaultWorkers is used when no worker count is configured.
func defaultWorkers() int {
	return max(runtime.NumCPU(), 2)
}

// forEach calls fn for every index in [0, n) on up to workers goroutines and
// returns when all calls have finished. Callers store results by index, which
// keeps output in submission order regardless of completion order.
func forEach(n, workers int, fn func(i int)) {
	if n == 0 {
		return
	}
	workers = max(1, min(workers, n))

	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	wg.Wait()
}
