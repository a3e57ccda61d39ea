// Package estimator projects how many objects the next harvest of a domain
// configuration will fetch, from the outcomes of its previous harvests.
//
// The projection trusts a completed harvest to grow slowly (by a configured
// fraction of the remaining headroom) and assumes an unfinished harvest may
// still double towards its ceiling. All limits use -1 for "unlimited" and
// that sentinel survives every min/max below.
package estimator

import (
	"context"
	"fmt"
	"sort"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
)

// minObjectsToEstimate is the sample size below which a harvest is not
// trusted to lower the average object size under the default.
const minObjectsToEstimate = 50

// Params are the tunables of the projection.
type Params struct {
	// ErrorFactorPrevResult divides the headroom added on top of a
	// completed harvest.
	ErrorFactorPrevResult int64
	// ExpectedAverageBytesPerObject is used when history cannot tell.
	ExpectedAverageBytesPerObject int64
	// MaxDomainSize is the ceiling when nothing else bounds a harvest.
	MaxDomainSize int64
}

// DefaultParams returns the stock tunables.
func DefaultParams() Params {
	return Params{
		ErrorFactorPrevResult:         10,
		ExpectedAverageBytesPerObject: 38000,
		MaxDomainSize:                 5000,
	}
}

// Validate reports parameters that would make the arithmetic meaningless.
func (p Params) Validate() error {
	if p.ErrorFactorPrevResult <= 0 {
		return fmt.Errorf("%w: error factor must be positive, got %d", domain.ErrInvalidConfiguration, p.ErrorFactorPrevResult)
	}
	if p.ExpectedAverageBytesPerObject <= 0 {
		return fmt.Errorf("%w: expected bytes per object must be positive, got %d", domain.ErrInvalidConfiguration, p.ExpectedAverageBytesPerObject)
	}
	if p.MaxDomainSize <= 0 {
		return fmt.Errorf("%w: max domain size must be positive, got %d", domain.ErrInvalidConfiguration, p.MaxDomainSize)
	}
	return nil
}

// Estimate is the outcome of one projection with its intermediate values.
type Estimate struct {
	Best           *domain.HarvestInfo
	BytesPerObject int64
	Minimum        int64
	Maximum        int64
	Expectation    int64
	// Objects is the final projection: min(Expectation, Maximum).
	Objects int64
}

// HistoryStore returns past harvest outcomes of one configuration, most
// recent first.
type HistoryStore interface {
	LoadHistoricalInfo(ctx context.Context, domainName, configName string) ([]domain.HarvestInfo, error)
}

// Estimator combines Params with a history source.
type Estimator struct {
	params  Params
	history HistoryStore
}

// New creates an Estimator. It panics on invalid params; callers validate
// configuration before wiring.
func New(params Params, history HistoryStore) *Estimator {
	if err := params.Validate(); err != nil {
		panic("estimator: " + err.Error())
	}
	return &Estimator{params: params, history: history}
}

// Params returns the tunables in use.
func (e *Estimator) Params() Params {
	return e.params
}

// ExpectedObjects projects the object count of the next harvest of cfg. An
// objectLimit or byteLimit other than -1 overrides the configuration's own
// limits as the ceiling.
func (e *Estimator) ExpectedObjects(ctx context.Context, cfg domain.DomainConfiguration, objectLimit, byteLimit int64) (int64, error) {
	est, err := e.Estimate(ctx, cfg, objectLimit, byteLimit)
	if err != nil {
		return 0, err
	}
	return est.Objects, nil
}

// Estimate is ExpectedObjects with the intermediate values kept.
func (e *Estimator) Estimate(ctx context.Context, cfg domain.DomainConfiguration, objectLimit, byteLimit int64) (Estimate, error) {
	history, err := e.history.LoadHistoricalInfo(ctx, cfg.DomainName, cfg.Name)
	if err != nil {
		return Estimate{}, domain.RepositoryError(fmt.Sprintf("load history of %s", cfg.Key()), err)
	}
	return e.params.Estimate(cfg, history, objectLimit, byteLimit), nil
}

// Estimate runs the projection on an already loaded history.
func (p Params) Estimate(cfg domain.DomainConfiguration, history []domain.HarvestInfo, objectLimit, byteLimit int64) Estimate {
	mustLimit("object limit", objectLimit)
	mustLimit("byte limit", byteLimit)
	mustLimit("configuration max objects", cfg.MaxObjects)
	mustLimit("configuration max bytes", cfg.MaxBytes)

	var est Estimate
	best, found := BestExpectation(forConfig(history, cfg))
	if found {
		est.Best = &best
	}
	est.BytesPerObject = p.bytesPerObject(best, found)

	switch {
	case objectLimit != domain.Unlimited || byteLimit != domain.Unlimited:
		est.Maximum = ceiling(objectLimit, byteLimit, est.BytesPerObject)
	case cfg.MaxObjects != domain.Unlimited || cfg.MaxBytes != domain.Unlimited:
		est.Maximum = ceiling(cfg.MaxObjects, cfg.MaxBytes, est.BytesPerObject)
	default:
		est.Maximum = p.MaxDomainSize
	}

	if found {
		est.Minimum = best.CountObjectRetrieved
	} else {
		est.Minimum = minInf(p.MaxDomainSize, cfg.MaxObjects)
	}

	switch {
	case !found:
		est.Expectation = minInf(p.MaxDomainSize, cfg.MaxObjects)
	case est.Maximum == domain.Unlimited:
		est.Expectation = est.Minimum
	case best.StopReason.Complete():
		est.Expectation = est.Minimum + (est.Maximum-est.Minimum)/p.ErrorFactorPrevResult
	default:
		est.Expectation = est.Minimum + (est.Maximum-est.Minimum)/2
	}

	// The configuration's own limits always apply when they are tighter
	// than an override.
	own := ceiling(cfg.MaxObjects, cfg.MaxBytes, est.BytesPerObject)
	if own != domain.Unlimited && (est.Maximum == domain.Unlimited || own < est.Maximum) {
		est.Maximum = own
	}

	est.Objects = minInf(est.Expectation, est.Maximum)
	return est
}

// BestExpectation picks the most informative entry of a most-recent-first
// history: the largest object count seen, scanning back no further than the
// most recent completed harvest.
func BestExpectation(history []domain.HarvestInfo) (domain.HarvestInfo, bool) {
	var best domain.HarvestInfo
	found := false
	for _, hi := range history {
		if hi.CountObjectRetrieved < 0 || hi.SizeDataRetrieved < 0 {
			panic(fmt.Sprintf("estimator: negative counts in harvest %d of %s/%s", hi.HarvestID, hi.DomainName, hi.ConfigName))
		}
		if !found || hi.CountObjectRetrieved > best.CountObjectRetrieved {
			best = hi
			found = true
		}
		if hi.StopReason.Complete() {
			break
		}
	}
	return best, found
}

func (p Params) bytesPerObject(best domain.HarvestInfo, found bool) int64 {
	if !found || best.CountObjectRetrieved == 0 {
		return p.ExpectedAverageBytesPerObject
	}
	per := best.SizeDataRetrieved / best.CountObjectRetrieved
	if per < p.ExpectedAverageBytesPerObject && best.CountObjectRetrieved < minObjectsToEstimate {
		return p.ExpectedAverageBytesPerObject
	}
	if per < 1 {
		return 1
	}
	return per
}

// forConfig keeps the entries of cfg, newest first.
func forConfig(history []domain.HarvestInfo, cfg domain.DomainConfiguration) []domain.HarvestInfo {
	out := make([]domain.HarvestInfo, 0, len(history))
	for _, hi := range history {
		if hi.DomainName == cfg.DomainName && hi.ConfigName == cfg.Name {
			out = append(out, hi)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// ceiling converts an (objects, bytes) limit pair into an object ceiling.
func ceiling(objects, bytes, bytesPerObject int64) int64 {
	if bytesPerObject <= 0 {
		panic(fmt.Sprintf("estimator: bytes per object must be positive, got %d", bytesPerObject))
	}
	byBytes := domain.Unlimited
	if bytes != domain.Unlimited {
		byBytes = bytes / bytesPerObject
	}
	return minInf(objects, byBytes)
}

// minInf is min where -1 means infinity.
func minInf(a, b int64) int64 {
	if a == domain.Unlimited {
		return b
	}
	if b == domain.Unlimited {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func mustLimit(name string, v int64) {
	if v < domain.Unlimited {
		panic(fmt.Sprintf("estimator: %s must be -1 or non-negative, got %d", name, v))
	}
}
