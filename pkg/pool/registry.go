package pool

import (
	"sort"
	"sync"
)

// Registry holds the instances of one cluster as last observed. Every
// method is safe for concurrent use; callers always receive copies.
type Registry struct {
	lock      *sync.RWMutex
	instances map[string]Instance
}

func NewRegistry() *Registry {
	return &Registry{
		lock:      new(sync.RWMutex),
		instances: make(map[string]Instance),
	}
}

func (r *Registry) Upsert(instance Instance) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.instances[instance.ID] = instance.clone()
}

func (r *Registry) Remove(id string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	_, ok := r.instances[id]
	delete(r.instances, id)
	return ok
}

func (r *Registry) Find(id string) (Instance, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	return instance.clone(), true
}

func (r *Registry) Has(id string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.instances[id]
	return ok
}

func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.instances)
}

// All returns a snapshot ordered by creation time.
func (r *Registry) All() []Instance {
	r.lock.RLock()
	defer r.lock.RUnlock()

	instances := make([]Instance, 0, len(r.instances))
	for _, i := range r.instances {
		instances = append(instances, i.clone())
	}
	sort.Slice(instances, func(a, b int) bool {
		if instances[a].CreatedAt.Equal(instances[b].CreatedAt) {
			return instances[a].ID < instances[b].ID
		}
		return instances[a].CreatedAt.Before(instances[b].CreatedAt)
	})
	return instances
}

// ReplaceAll swaps the contents for a fresh observation. The cluster cannot
// report agent state, so it is carried over for instances that were already
// known.
func (r *Registry) ReplaceAll(observed []Instance) {
	r.lock.Lock()
	defer r.lock.Unlock()

	instances := make(map[string]Instance, len(observed))
	for _, i := range observed {
		if prev, ok := r.instances[i.ID]; ok {
			i.AgentState = prev.AgentState
		}
		instances[i.ID] = i.clone()
	}
	r.instances = instances
}

// Update replaces an instance with the value returned by updater, if it
// exists.
func (r *Registry) Update(id string, updater func(Instance) Instance) (Instance, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	instance, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	updated := updater(instance.clone())
	r.instances[id] = updated.clone()
	return updated, true
}
