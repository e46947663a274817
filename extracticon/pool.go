// MIT License
//
// Portions copyright (c) 2017 Ivan Pusic
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"sync"
)

const queueLength = 1000

type job func()

type worker struct {
	jobs    <-chan job
	recover func(interface{})
	done    *sync.WaitGroup
}

func (w *worker) start() {
	go func() {
		defer w.done.Done()
		for job := range w.jobs {
			w.run(job)
		}
	}()
}

// a panicking job must not take the worker, and with it the pool, down
func (w *worker) run(job job) {
	defer func() {
		if r := recover(); r != nil && w.recover != nil {
			w.recover(r)
		}
	}()
	job()
}

// pool runs jobs on a fixed number of workers. Enqueue blocks once
// queueLength jobs are waiting.
type pool struct {
	jobQueue chan job
	pending  sync.WaitGroup
	workers  sync.WaitGroup
	release  sync.Once
}

// newPool starts numWorkers workers, at least one. recovered, when not nil,
// receives the value of any job that panics.
func newPool(numWorkers int, recovered func(interface{})) *pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &pool{
		jobQueue: make(chan job, queueLength),
	}
	p.workers.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			jobs:    p.jobQueue,
			recover: recovered,
			done:    &p.workers,
		}
		w.start()
	}
	return p
}

func (p *pool) Enqueue(job job) {
	p.pending.Add(1)
	p.jobQueue <- func() {
		defer p.pending.Done()
		job()
	}
}

// Wait blocks until every enqueued job has finished.
func (p *pool) Wait() {
	p.pending.Wait()
}

// Will release resources used by pool
func (p *pool) Release() {
	p.release.Do(func() {
		close(p.jobQueue)
		p.workers.Wait()
	})
}
