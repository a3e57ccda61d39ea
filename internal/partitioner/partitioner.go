// Package partitioner groups the domain configurations of one harvest into
// jobs of similar size.
package partitioner

import (
	"fmt"
	"sort"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
)

// Params bound what may share a job.
type Params struct {
	// MaxRelativeSizeDifference is the largest allowed ratio between the
	// biggest and smallest member expectation of a job.
	MaxRelativeSizeDifference float64
	// MinAbsoluteSizeDifference lets members share a job whatever their
	// ratio while their expectations differ by no more than this.
	MinAbsoluteSizeDifference int64
	// MaxTotalJobSize caps the summed expectation of a job with more than
	// one member.
	MaxTotalJobSize int64
}

// DefaultParams returns the stock limits.
func DefaultParams() Params {
	return Params{
		MaxRelativeSizeDifference: 100,
		MinAbsoluteSizeDifference: 100,
		MaxTotalJobSize:           2000000,
	}
}

// Validate reports limits outside their domain.
func (p Params) Validate() error {
	if p.MaxRelativeSizeDifference < 1 {
		return fmt.Errorf("%w: max relative size difference must be >= 1, got %g", domain.ErrInvalidConfiguration, p.MaxRelativeSizeDifference)
	}
	if p.MinAbsoluteSizeDifference < 0 {
		return fmt.Errorf("%w: min absolute size difference must be >= 0, got %d", domain.ErrInvalidConfiguration, p.MinAbsoluteSizeDifference)
	}
	if p.MaxTotalJobSize <= 0 {
		return fmt.Errorf("%w: max total job size must be positive, got %d", domain.ErrInvalidConfiguration, p.MaxTotalJobSize)
	}
	return nil
}

// Sized is a configuration with its expected object count.
type Sized struct {
	Config   domain.DomainConfiguration
	Expected int64
}

// MetricsSink observes the jobs a partition produces.
type MetricsSink interface {
	JobPartitioned(template string, expectedObjects int64)
}

// Partitioner applies Params to sets of sized configurations.
type Partitioner struct {
	params  Params
	metrics MetricsSink
}

// New creates a Partitioner. It panics on invalid params.
func New(params Params) *Partitioner {
	if err := params.Validate(); err != nil {
		panic("partitioner: " + err.Error())
	}
	return &Partitioner{params: params}
}

// WithMetrics sets the metrics sink.
func (p *Partitioner) WithMetrics(m MetricsSink) *Partitioner {
	p.metrics = m
	return p
}

// Params returns the limits in use.
func (p *Partitioner) Params() Params {
	return p.params
}

type bin struct {
	template string
	members  []Sized
	min, max int64
	total    int64
}

// Partition groups configs into jobs. Configurations are taken largest
// first and each goes to the most recently opened job of its template that
// still fits, or opens a new one. Only Template, Configurations and
// ExpectedObjects of the returned jobs are set.
func (p *Partitioner) Partition(configs []Sized) []domain.Job {
	sorted := make([]Sized, len(configs))
	copy(sorted, configs)
	for _, s := range sorted {
		if s.Expected < 0 {
			panic(fmt.Sprintf("partitioner: negative expectation %d for %s", s.Expected, s.Config.Key()))
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Expected != b.Expected {
			return a.Expected > b.Expected
		}
		if a.Config.Template != b.Config.Template {
			return a.Config.Template < b.Config.Template
		}
		return a.Config.Key().String() < b.Config.Key().String()
	})

	var bins []*bin
	for _, s := range sorted {
		var target *bin
		for i := len(bins) - 1; i >= 0; i-- {
			if p.accepts(bins[i], s) {
				target = bins[i]
				break
			}
		}
		if target == nil {
			target = &bin{template: s.Config.Template, min: s.Expected, max: s.Expected}
			bins = append(bins, target)
		}
		target.add(s)
	}

	jobs := make([]domain.Job, 0, len(bins))
	for _, b := range bins {
		job := domain.Job{
			Template:        b.template,
			Configurations:  make([]domain.ConfigKey, 0, len(b.members)),
			ExpectedObjects: b.total,
		}
		for _, m := range b.members {
			job.Configurations = append(job.Configurations, m.Config.Key())
		}
		if p.metrics != nil {
			p.metrics.JobPartitioned(b.template, b.total)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (p *Partitioner) accepts(b *bin, s Sized) bool {
	if b.template != s.Config.Template {
		return false
	}
	if b.total+s.Expected > p.params.MaxTotalJobSize {
		return false
	}
	lo, hi := b.min, b.max
	if s.Expected < lo {
		lo = s.Expected
	}
	if s.Expected > hi {
		hi = s.Expected
	}
	if hi-lo < p.params.MinAbsoluteSizeDifference {
		return true
	}
	return float64(hi) <= float64(lo)*p.params.MaxRelativeSizeDifference
}

func (b *bin) add(s Sized) {
	b.members = append(b.members, s)
	b.total += s.Expected
	if s.Expected < b.min {
		b.min = s.Expected
	}
	if s.Expected > b.max {
		b.max = s.Expected
	}
}
