package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDependencyCycle is matched by every *CycleError
	ErrDependencyCycle = errors.New("stage dependency cycle")
	// ErrUnknownDependency is returned when a stage depends on a stage that was never declared
	ErrUnknownDependency = errors.New("unknown stage dependency")
	// ErrDuplicateStage is returned when two stages share a name
	ErrDuplicateStage = errors.New("duplicate stage")
	// ErrMissingPersistence is returned when a module stage does not run after persistence
	ErrMissingPersistence = errors.New("module stage does not depend on persistence")
)

// StageFunc initializes one subsystem against the assembly under construction
type StageFunc func(ctx context.Context, asm *Assembly) error

// Stage is a named initialization step
type Stage struct {
	Name      string
	DependsOn []string
	Init      StageFunc
}

// CycleError lists the stages that could not be ordered
type CycleError struct {
	Stages []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v among stages: %s", ErrDependencyCycle, strings.Join(e.Stages, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrDependencyCycle
}

// Registry holds the stage set and its fixed execution order
type Registry struct {
	stages []Stage
	order  []Stage
}

// NewRegistry validates the stage graph and computes its topological order
// (Kahn's algorithm; ready stages run in declaration order). Any defect in
// the graph is reported here, before a single stage can run.
func NewRegistry(stages ...Stage) (*Registry, error) {
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if s.Init == nil {
			return nil, fmt.Errorf("stage %q has no init function", s.Name)
		}
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, s.Name)
		}
		index[s.Name] = i
	}

	indegree := make([]int, len(stages))
	dependents := make([][]int, len(stages))
	for i, s := range stages {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: stage %q depends on %q", ErrUnknownDependency, s.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	order := make([]Stage, 0, len(stages))
	done := make([]bool, len(stages))
	for len(order) < len(stages) {
		next := -1
		for i := range stages {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, s := range stages {
				if !done[i] {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, &CycleError{Stages: stuck}
		}
		done[next] = true
		order = append(order, cloneStage(stages[next]))
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}

	reg := &Registry{order: order}
	for _, s := range stages {
		reg.stages = append(reg.stages, cloneStage(s))
	}
	if err := reg.checkModuleStages(); err != nil {
		return nil, err
	}
	return reg, nil
}

// checkModuleStages rejects module stages that could run before persistence
func (r *Registry) checkModuleStages() error {
	if _, ok := r.lookup(StagePersistence); !ok {
		for _, s := range r.stages {
			if strings.HasPrefix(s.Name, ModuleStagePrefix) {
				return fmt.Errorf("%w: stage %q depends on %q", ErrUnknownDependency, s.Name, StagePersistence)
			}
		}
		return nil
	}
	for _, s := range r.stages {
		if strings.HasPrefix(s.Name, ModuleStagePrefix) && !r.reaches(s.Name, StagePersistence) {
			return fmt.Errorf("%w: %q", ErrMissingPersistence, s.Name)
		}
	}
	return nil
}

// reaches reports whether from transitively depends on target
func (r *Registry) reaches(from, target string) bool {
	visited := make(map[string]bool)
	var walk func(name string) bool
	walk = func(name string) bool {
		if visited[name] {
			return false
		}
		visited[name] = true
		s, _ := r.lookup(name)
		for _, dep := range s.DependsOn {
			if dep == target || walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

func (r *Registry) lookup(name string) (Stage, bool) {
	for _, s := range r.stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// TopologicalOrder returns a copy of the execution order
func (r *Registry) TopologicalOrder() []Stage {
	out := make([]Stage, len(r.order))
	for i, s := range r.order {
		out[i] = cloneStage(s)
	}
	return out
}

// Names returns the stage names in execution order
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, s := range r.order {
		names[i] = s.Name
	}
	return names
}

func cloneStage(s Stage) Stage {
	s.DependsOn = append([]string(nil), s.DependsOn...)
	return s
}
