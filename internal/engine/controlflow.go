package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skeinhq/skein/internal/ast"
	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/pkg/events"
)

// executeParallelGroup runs every sibling of a `KindParallelGroup` step
// concurrently against the same Store, so the group's messages interleave
// on the shared Transcript but each step's own batch of messages still
// lands atomically (spec.md §4.6, §5's per-step contiguity guarantee). A
// fatal error in any sibling cancels the rest cooperatively.
func (e *Executor) executeParallelGroup(ctx context.Context, store *execcontext.Store, step *ast.Step) error {
	nameCounts := make(map[string]int, len(step.Group))
	for _, sub := range step.Group {
		if sub.Name != "" {
			nameCounts[sub.Name]++
		}
	}
	for name, count := range nameCounts {
		if count > 1 {
			store.Emit(events.ExecutionEvent{
				Type:      events.EventParallelOutputConflict,
				Timestamp: time.Now(),
				RunID:     store.RunID(),
				StepID:    name,
			})
		}
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(step.Group))
	for i, sub := range step.Group {
		wg.Add(1)
		go func(i int, sub *ast.Step) {
			defer wg.Done()
			if err := e.executeStep(groupCtx, store, sub); err != nil {
				errs[i] = err
				cancel()
			}
		}(i, sub)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// executeConditional implements the if/unless construct (spec.md §4.6),
// resolving the condition value through evalBool's coercion ladder.
func (e *Executor) executeConditional(ctx context.Context, store *execcontext.Store, step *ast.Step) error {
	mods := step.Modifiers

	condExpr := mods.If
	negate := condExpr == ""
	if negate {
		condExpr = mods.Unless
	}

	result, err := e.evalBool(ctx, store, condExpr)
	if err != nil {
		return fmt.Errorf("step %q at %s: evaluating condition: %w", step.Name, step.Pos, err)
	}
	if negate {
		result = !result
	}

	branch := mods.Then
	if !result {
		branch = mods.Else
	}
	for _, sub := range branch {
		if err := e.executeStep(ctx, store, sub); err != nil {
			return err
		}
	}
	return nil
}

// executeEach implements the each/as iteration construct (spec.md §4.6): it
// evaluates the collection expression once, then runs the substep list once
// per element in a fresh child Store scope binding `as` to that element.
// Per the resolved Open Question (spec.md §9), each iteration's Output Map
// writes are local to its child scope and discarded when the iteration
// ends; the outer step's own stored result is the list of per-iteration
// tails (the last substep's result each time around).
func (e *Executor) executeEach(ctx context.Context, store *execcontext.Store, step *ast.Step) error {
	mods := step.Modifiers

	items, err := e.evalList(ctx, store, mods.Each)
	if err != nil {
		return fmt.Errorf("step %q at %s: evaluating each collection: %w", step.Name, step.Pos, err)
	}

	var tails []interface{}
	for _, item := range items {
		childStore := store.Scope(map[string]interface{}{mods.As: item})
		for _, sub := range mods.Steps {
			if err := e.executeStep(ctx, childStore, sub); err != nil {
				return err
			}
		}
		tails = append(tails, lastSubstepOutput(childStore, mods.Steps))
	}

	store.Record(step.Name, tails)
	return nil
}

// executeRepeat implements the repeat/until/max_iterations construct
// (spec.md §4.6): it re-runs the substep list in a fresh child scope each
// time, evaluating `until` after each pass, and stops either when `until`
// becomes true or max_iterations is reached (emitting repeat.exhausted in
// the latter case).
func (e *Executor) executeRepeat(ctx context.Context, store *execcontext.Store, step *ast.Step) error {
	mods := step.Modifiers

	maxIterations := 100
	if mods.MaxIterations != nil {
		maxIterations = *mods.MaxIterations
	}

	var tails []interface{}
	for i := 0; i < maxIterations; i++ {
		childStore := store.Scope(nil)
		for _, sub := range mods.Steps {
			if err := e.executeStep(ctx, childStore, sub); err != nil {
				return err
			}
		}
		tails = append(tails, lastSubstepOutput(childStore, mods.Steps))

		if mods.Until != "" {
			done, err := e.evalBool(ctx, childStore, mods.Until)
			if err != nil {
				return fmt.Errorf("step %q at %s: evaluating until: %w", step.Name, step.Pos, err)
			}
			if done {
				store.Record(step.Name, tails)
				return nil
			}
		}
	}

	store.Emit(events.ExecutionEvent{
		Type:      events.EventRepeatExhausted,
		Timestamp: time.Now(),
		RunID:     store.RunID(),
		StepID:    step.Name,
		Attempt:   maxIterations,
	})
	store.Record(step.Name, tails)
	return nil
}

// executeCase implements the case/when/else construct (spec.md §4.6),
// matching the evaluated case expression's string form against the `when`
// map's keys and falling back to `else` (reusing the conditional's Else
// field as the case's else branch).
func (e *Executor) executeCase(ctx context.Context, store *execcontext.Store, step *ast.Step) error {
	mods := step.Modifiers

	key, err := e.evalString(ctx, store, mods.Case)
	if err != nil {
		return fmt.Errorf("step %q at %s: evaluating case: %w", step.Name, step.Pos, err)
	}

	branch, matched := mods.When[key]
	if !matched {
		branch = mods.Else
	}
	for _, sub := range branch {
		if err := e.executeStep(ctx, store, sub); err != nil {
			return err
		}
	}
	return nil
}

// lastSubstepOutput returns the Output Map value the last substep in steps
// recorded in scope, or nil if steps is empty or unnamed.
func lastSubstepOutput(scope *execcontext.Store, steps []*ast.Step) interface{} {
	if len(steps) == 0 {
		return nil
	}
	last := steps[len(steps)-1]
	if last.Name == "" {
		return nil
	}
	v, _ := scope.Output(last.Name)
	return v
}
