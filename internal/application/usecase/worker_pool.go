package usecase

import (
	"fmt"
	"sync"

	"github.com/bibbank/impairment-engine/internal/domain/model"
)

// computeFunc calculates one loan. It must be safe for concurrent use.
type computeFunc func(loan model.LoanSnapshot) (model.LoanCalculationResult, error)

// outcome is the per-loan result of a page, attributed by loan id.
type outcome struct {
	err    error
	result model.LoanCalculationResult
	loanID int64
}

// workerPool is a fixed set of goroutines owned by one run. Pages are
// submitted one at a time and runPage returns only after every loan of the
// page has completed.
type workerPool struct {
	tasks    chan model.LoanSnapshot
	outcomes chan outcome
	compute  computeFunc
	wg       sync.WaitGroup
}

func newWorkerPool(workers, queueSize int, compute computeFunc) *workerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &workerPool{
		tasks:    make(chan model.LoanSnapshot, queueSize),
		outcomes: make(chan outcome, queueSize),
		compute:  compute,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *workerPool) work() {
	defer p.wg.Done()
	for loan := range p.tasks {
		p.outcomes <- p.safeCompute(loan)
	}
}

// safeCompute turns a panic in a single loan into that loan's error.
func (p *workerPool) safeCompute(loan model.LoanSnapshot) (out outcome) {
	out.loanID = loan.ID
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("panic: %v", r)
		}
	}()
	out.result, out.err = p.compute(loan)
	return out
}

// runPage fans the page out and blocks until every loan has an outcome.
// Outcomes are keyed by loan id; completion order is irrelevant.
func (p *workerPool) runPage(loans []model.LoanSnapshot) map[int64]outcome {
	go func() {
		for _, loan := range loans {
			p.tasks <- loan
		}
	}()

	results := make(map[int64]outcome, len(loans))
	for range loans {
		o := <-p.outcomes
		results[o.loanID] = o
	}
	return results
}

// close stops the workers. The pool must be idle.
func (p *workerPool) close() {
	close(p.tasks)
	p.wg.Wait()
}
