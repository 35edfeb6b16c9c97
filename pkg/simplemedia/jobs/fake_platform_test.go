package jobs_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// fakePlatform is a scripted JobPlatform. Job states are scripted per name
// prefix ("proxy", "thumb"); each status query advances through the script
// and the last entry repeats.
type fakePlatform struct {
	mu sync.Mutex

	instances       map[string]*simplemedia.Instance
	createErrs      []error
	createCalls     int
	createDelay     time.Duration
	readyAfterGets  int // GetInstance calls after creation before Ready flips
	getsSinceCreate int

	scripts      map[string][]simplemedia.JobState
	statusErrs   map[string]int // prefix -> number of leading status errors
	createJobErr map[string]error
	jobs         map[string]simplemedia.JobSpec
	polls        map[string]int
	deleted      []string
	deleteErr    error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		instances:    make(map[string]*simplemedia.Instance),
		scripts:      make(map[string][]simplemedia.JobState),
		statusErrs:   make(map[string]int),
		createJobErr: make(map[string]error),
		jobs:         make(map[string]simplemedia.JobSpec),
		polls:        make(map[string]int),
	}
}

func (f *fakePlatform) GetInstance(_ context.Context, kind, name string) (*simplemedia.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[kind+"/"+name]
	if !ok {
		return nil, nil
	}
	if !inst.Ready {
		f.getsSinceCreate++
		if f.getsSinceCreate > f.readyAfterGets {
			inst.Ready = true
		}
	}
	cp := *inst
	return &cp, nil
}

func (f *fakePlatform) CreateInstance(_ context.Context, kind, name string) (*simplemedia.Instance, error) {
	time.Sleep(f.createDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	key := kind + "/" + name
	if _, ok := f.instances[key]; ok {
		return nil, simplemedia.ErrInstanceExists
	}
	inst := &simplemedia.Instance{
		Kind:     kind,
		Name:     name,
		Ready:    f.readyAfterGets == 0,
		Endpoint: "redis://" + name + ".internal:6379/0",
	}
	f.instances[key] = inst
	cp := *inst
	return &cp, nil
}

func (f *fakePlatform) CreateJob(_ context.Context, spec simplemedia.JobSpec) (simplemedia.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createJobErr[prefixOf(spec.Name)]; err != nil {
		return "", err
	}
	f.jobs[spec.Name] = spec
	return simplemedia.JobStateCreated, nil
}

func (f *fakePlatform) JobStatus(_ context.Context, name string) (simplemedia.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := prefixOf(name)
	n := f.polls[name]
	f.polls[name]++
	if n < f.statusErrs[prefix] {
		return "", &simplemedia.PlatformError{Op: "job_status", Name: name, Transient: true, Err: context.DeadlineExceeded}
	}
	n -= f.statusErrs[prefix]
	script := f.scripts[prefix]
	if len(script) == 0 {
		return simplemedia.JobStateRunning, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], nil
}

func (f *fakePlatform) DeleteJob(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

func (f *fakePlatform) jobNames(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.jobs {
		if prefixOf(name) == prefix {
			names = append(names, name)
		}
	}
	return names
}

func (f *fakePlatform) deletedJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakePlatform) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func prefixOf(name string) string {
	for _, p := range []string{"proxy", "thumb"} {
		if strings.HasPrefix(name, p) {
			return p
		}
	}
	return name
}
