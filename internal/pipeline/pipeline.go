// Package pipeline streams bytes through a chain of concurrently running stages,
// each joined to the next by an in-memory pipe.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrDownstreamClosed is what an upstream stage sees when writing after the
// stage reading from it has exited.
var ErrDownstreamClosed = errors.New("downstream stage exited")

// Stage is one step of a pipeline. in is nil for the first stage; out discards
// for the last one. Run must return once in is drained or ctx is done.
type Stage struct {
	Name string
	Run  func(ctx context.Context, in io.Reader, out io.Writer) error
}

// StageError reports which stage failed first and, for processes, its exit code.
type StageError struct {
	Stage string
	Code  int
	Err   error
}

func (e *StageError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s failed (exit %d): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err for stage, lifting the exit code of a child process.
func NewStageError(stage string, err error) *StageError {
	se := &StageError{Stage: stage, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		se.Code = exitErr.ExitCode()
	}
	return se
}

// ExitCode maps an error to a process exit status: 0 for nil, the failing
// stage's exit code when it has one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StageError
	if errors.As(err, &se) && se.Code > 0 {
		return se.Code
	}
	return 1
}

// Run starts every stage and waits for all of them. The first stage to fail
// decides the returned error; failures it causes in its neighbours are dropped.
func Run(ctx context.Context, stages ...Stage) error {
	if len(stages) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var (
		mu    sync.Mutex
		first *StageError
	)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			first = NewStageError(name, err)
		}
	}

	var in io.Reader
	var inPipe *io.PipeReader
	for i, st := range stages {
		var out io.Writer = io.Discard
		var nextReader *io.PipeReader
		var outPipe *io.PipeWriter
		if i < len(stages)-1 {
			nextReader, outPipe = io.Pipe()
			out = outPipe
		}

		stageIn, stageInPipe := in, inPipe
		g.Go(func() error {
			err := st.Run(gctx, stageIn, out)
			if err != nil {
				record(st.Name, err)
			}
			if outPipe != nil {
				if err != nil {
					outPipe.CloseWithError(err)
				} else {
					outPipe.Close()
				}
			}
			if stageInPipe != nil {
				stageInPipe.CloseWithError(ErrDownstreamClosed)
			}
			return err
		})

		if nextReader != nil {
			in, inPipe = nextReader, nextReader
		}
	}

	if err := g.Wait(); err != nil {
		mu.Lock()
		defer mu.Unlock()
		if first != nil {
			return first
		}
		return err
	}
	return nil
}
