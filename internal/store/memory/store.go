// Package memory is an in-process repository with the same edition
// semantics as the PostgreSQL store. Values are copied on the way in and
// out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
)

// Store implements scheduler.Repository.
type Store struct {
	mu             sync.Mutex
	definitions    map[int64]domain.HarvestDefinition
	configurations map[domain.ConfigKey]domain.DomainConfiguration
	history        map[domain.ConfigKey][]domain.HarvestInfo
	jobs           []domain.Job
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		definitions:    make(map[int64]domain.HarvestDefinition),
		configurations: make(map[domain.ConfigKey]domain.DomainConfiguration),
		history:        make(map[domain.ConfigKey][]domain.HarvestInfo),
	}
}

// SaveHarvestDefinition inserts or replaces hd as given, edition included.
func (s *Store) SaveHarvestDefinition(hd domain.HarvestDefinition) error {
	if err := hd.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[hd.ID] = hd.Clone()
	return nil
}

// SaveConfiguration registers a domain configuration.
func (s *Store) SaveConfiguration(cfg domain.DomainConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configurations[cfg.Key()] = cloneConfig(cfg)
}

// Configuration returns a registered domain configuration.
func (s *Store) Configuration(key domain.ConfigKey) (domain.DomainConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configurations[key]
	if !ok {
		return domain.DomainConfiguration{}, domain.UnknownEntityError("domain configuration", key)
	}
	return cloneConfig(cfg), nil
}

// AddHarvestInfo records the outcome of a past harvest.
func (s *Store) AddHarvestInfo(hi domain.HarvestInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.ConfigKey{DomainName: hi.DomainName, ConfigName: hi.ConfigName}
	infos := append(s.history[key], hi)
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].Date.Equal(infos[j].Date) {
			return infos[i].Date.After(infos[j].Date)
		}
		return infos[i].HarvestID > infos[j].HarvestID
	})
	s.history[key] = infos
}

// MarkIndexReady flags the deduplication index of a snapshot as built.
func (s *Store) MarkIndexReady(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hd, ok := s.definitions[id]
	if !ok {
		return domain.UnknownEntityError("harvest definition", id)
	}
	if hd.Kind != domain.HarvestSnapshot {
		return fmt.Errorf("%w: harvest definition %d is not a snapshot", domain.ErrInvalidConfiguration, id)
	}
	hd = hd.Clone()
	hd.Snapshot.IndexReady = true
	hd.Edition++
	s.definitions[id] = hd
	return nil
}

// HarvestDefinitions returns every stored definition ordered by id.
func (s *Store) HarvestDefinitions() []domain.HarvestDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HarvestDefinition, 0, len(s.definitions))
	for _, hd := range s.definitions {
		out = append(out, hd.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Jobs returns every persisted job in creation order.
func (s *Store) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = cloneJob(j)
	}
	return out
}

func (s *Store) LoadDueHarvestDefinitions(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, hd := range s.definitions {
		if hd.IsReady(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) LoadHarvestDefinition(_ context.Context, id int64) (domain.HarvestDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hd, ok := s.definitions[id]
	if !ok {
		return domain.HarvestDefinition{}, domain.UnknownEntityError("harvest definition", id)
	}
	return hd.Clone(), nil
}

func (s *Store) LoadHistoricalInfo(_ context.Context, domainName, configName string) ([]domain.HarvestInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := s.history[domain.ConfigKey{DomainName: domainName, ConfigName: configName}]
	return append([]domain.HarvestInfo(nil), infos...), nil
}

// PersistJobsAndAdvance commits jobs and the new schedule state of hd if the
// stored edition still equals expectedEdition.
func (s *Store) PersistJobsAndAdvance(_ context.Context, hd domain.HarvestDefinition, jobs []domain.Job, nextDate *time.Time, numEvents int, expectedEdition int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.definitions[hd.ID]
	if !ok {
		return domain.UnknownEntityError("harvest definition", hd.ID)
	}
	if cur.Edition != expectedEdition {
		return domain.ErrConcurrentModification
	}

	cur = cur.Clone()
	cur.NumEvents = numEvents
	if cur.Selective != nil {
		cur.Selective.NextDate = nil
		if nextDate != nil {
			next := *nextDate
			cur.Selective.NextDate = &next
		}
	}
	cur.Edition++
	s.definitions[hd.ID] = cur
	for _, j := range jobs {
		s.jobs = append(s.jobs, cloneJob(j))
	}
	return nil
}

func cloneJob(j domain.Job) domain.Job {
	j.Configurations = append([]domain.ConfigKey(nil), j.Configurations...)
	return j
}

func cloneConfig(c domain.DomainConfiguration) domain.DomainConfiguration {
	c.Seedlists = append([]string(nil), c.Seedlists...)
	c.Passwords = append([]string(nil), c.Passwords...)
	return c
}
