package service

import "time"

type DispatcherOption func(*Dispatcher)

func WithBatchSize(size uint64) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 && size <= _maxBatchSize {
			d.batchSize = size
		}
	}
}

func WithMaxRetries(retries int) DispatcherOption {
	return func(d *Dispatcher) {
		if retries > 0 {
			d.maxRetries = retries
		}
	}
}

func WithBackoff(base, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if base > 0 {
			d.baseBackoff = base
		}
		if max >= d.baseBackoff {
			d.maxBackoff = max
		}
	}
}

func WithWorkers(workers int) DispatcherOption {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workers = workers
		}
	}
}
