package jit

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/yarv"
)

// MethodProfile holds profiling data for a single method.
type MethodProfile struct {
	InvocationCount uint64 // atomic
	hot             atomic.Bool
}

// IsHot reports whether the method reached the hot threshold.
func (p *MethodProfile) IsHot() bool { return p.hot.Load() }

// Profiler counts method invocations and reports each method once, when
// its count reaches the hot threshold.
type Profiler struct {
	profiles sync.Map // method name -> *MethodProfile

	HotThreshold uint64

	// OnHot is called once per method, from the invocation that made it
	// hot.
	OnHot func(iseq *yarv.Iseq, profile *MethodProfile)
}

// NewProfiler creates a profiler with the given threshold. Zero means the
// default.
func NewProfiler(threshold uint64) *Profiler {
	if threshold == 0 {
		threshold = config.DefaultHotThreshold
	}
	return &Profiler{HotThreshold: threshold}
}

// RecordInvocation counts one invocation of iseq and reports whether it
// made the method hot.
func (p *Profiler) RecordInvocation(iseq *yarv.Iseq) bool {
	if iseq == nil {
		return false
	}
	val, _ := p.profiles.LoadOrStore(iseq.Name(), &MethodProfile{})
	profile := val.(*MethodProfile)

	count := atomic.AddUint64(&profile.InvocationCount, 1)
	if count < p.HotThreshold || !profile.hot.CompareAndSwap(false, true) {
		return false
	}
	if p.OnHot != nil {
		p.OnHot(iseq, profile)
	}
	return true
}

// Profile returns the profile for name, or nil if it was never invoked.
func (p *Profiler) Profile(name string) *MethodProfile {
	if val, ok := p.profiles.Load(name); ok {
		return val.(*MethodProfile)
	}
	return nil
}

// IsHot reports whether name has reached the hot threshold.
func (p *Profiler) IsHot(name string) bool {
	profile := p.Profile(name)
	return profile != nil && profile.IsHot()
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Methods     int
	HotMethods  int
	Invocations uint64
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(_, value any) bool {
		profile := value.(*MethodProfile)
		stats.Methods++
		stats.Invocations += atomic.LoadUint64(&profile.InvocationCount)
		if profile.IsHot() {
			stats.HotMethods++
		}
		return true
	})
	return stats
}

// HotMethods returns the names of every hot method, sorted.
func (p *Profiler) HotMethods() []string {
	var hot []string
	p.profiles.Range(func(key, value any) bool {
		if value.(*MethodProfile).IsHot() {
			hot = append(hot, key.(string))
		}
		return true
	})
	sort.Strings(hot)
	return hot
}

// TopMethods returns the n most invoked method names, most invoked first.
func (p *Profiler) TopMethods(n int) []string {
	type methodCount struct {
		name  string
		count uint64
	}
	var all []methodCount
	p.profiles.Range(func(key, value any) bool {
		all = append(all, methodCount{key.(string), atomic.LoadUint64(&value.(*MethodProfile).InvocationCount)})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].name < all[j].name
	})

	result := make([]string, 0, n)
	for i := 0; i < n && i < len(all); i++ {
		result = append(result, all[i].name)
	}
	return result
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles.Range(func(key, _ any) bool {
		p.profiles.Delete(key)
		return true
	})
}
