package partitioner

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
)

func sized(name, template string, expected int64) Sized {
	return Sized{
		Config: domain.DomainConfiguration{
			Name:       "default",
			DomainName: name,
			Template:   template,
			MaxObjects: domain.Unlimited,
			MaxBytes:   domain.Unlimited,
		},
		Expected: expected,
	}
}

func domains(job domain.Job) []string {
	out := make([]string, 0, len(job.Configurations))
	for _, k := range job.Configurations {
		out = append(out, k.DomainName)
	}
	return out
}

type mockMetrics struct {
	mu    sync.Mutex
	sizes []int64
}

func (m *mockMetrics) JobPartitioned(_ string, expected int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, expected)
}

func TestPartition_SmallAbsoluteDifferenceMerges(t *testing.T) {
	p := New(Params{MaxRelativeSizeDifference: 2, MinAbsoluteSizeDifference: 100, MaxTotalJobSize: 2000000})

	jobs := p.Partition([]Sized{
		sized("small.org", "default", 5),
		sized("big.org", "default", 1000),
		sized("medium.org", "default", 10),
	})

	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"big.org"}, domains(jobs[0]))
	assert.Equal(t, int64(1000), jobs[0].ExpectedObjects)
	assert.Equal(t, []string{"medium.org", "small.org"}, domains(jobs[1]))
	assert.Equal(t, int64(15), jobs[1].ExpectedObjects)
}

func TestPartition_RelativeDifferenceSplits(t *testing.T) {
	p := New(Params{MaxRelativeSizeDifference: 2, MinAbsoluteSizeDifference: 0, MaxTotalJobSize: 2000000})

	jobs := p.Partition([]Sized{
		sized("a.org", "default", 400),
		sized("b.org", "default", 250),
		sized("c.org", "default", 150),
	})

	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"a.org", "b.org"}, domains(jobs[0]))
	assert.Equal(t, []string{"c.org"}, domains(jobs[1]))
}

func TestPartition_TotalCap(t *testing.T) {
	p := New(Params{MaxRelativeSizeDifference: 100, MinAbsoluteSizeDifference: 1000, MaxTotalJobSize: 1000})

	var in []Sized
	for i := 0; i < 6; i++ {
		in = append(in, sized(fmt.Sprintf("d%d.org", i), "default", 400))
	}
	jobs := p.Partition(in)

	require.Len(t, jobs, 3)
	for _, j := range jobs {
		assert.LessOrEqual(t, j.ExpectedObjects, int64(1000))
		assert.Len(t, j.Configurations, 2)
	}
}

func TestPartition_OversizeConfigurationStandsAlone(t *testing.T) {
	p := New(Params{MaxRelativeSizeDifference: 100, MinAbsoluteSizeDifference: 100, MaxTotalJobSize: 1000})

	jobs := p.Partition([]Sized{
		sized("huge.org", "default", 5000),
		sized("tiny.org", "default", 10),
	})

	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"huge.org"}, domains(jobs[0]))
	assert.Equal(t, int64(5000), jobs[0].ExpectedObjects)
	assert.Equal(t, []string{"tiny.org"}, domains(jobs[1]))
}

func TestPartition_TemplatesNeverMixed(t *testing.T) {
	p := New(DefaultParams())

	jobs := p.Partition([]Sized{
		sized("a.org", "default", 100),
		sized("b.org", "deep", 100),
		sized("c.org", "default", 90),
	})

	require.Len(t, jobs, 2)
	assert.Equal(t, "deep", jobs[0].Template)
	assert.Equal(t, []string{"b.org"}, domains(jobs[0]))
	assert.Equal(t, "default", jobs[1].Template)
	assert.Equal(t, []string{"a.org", "c.org"}, domains(jobs[1]))
}

func TestPartition_PrefersMostRecentlyOpenedJob(t *testing.T) {
	p := New(Params{MaxRelativeSizeDifference: 100, MinAbsoluteSizeDifference: 0, MaxTotalJobSize: 1500})

	jobs := p.Partition([]Sized{
		sized("a.org", "default", 1000),
		sized("b.org", "default", 600),
		sized("c.org", "default", 300),
	})

	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"a.org"}, domains(jobs[0]))
	assert.Equal(t, []string{"b.org", "c.org"}, domains(jobs[1]))
}

func TestPartition_Empty(t *testing.T) {
	jobs := New(DefaultParams()).Partition(nil)
	assert.Empty(t, jobs)
}

func TestPartition_DoesNotReorderInput(t *testing.T) {
	in := []Sized{sized("a.org", "default", 1), sized("b.org", "default", 2)}
	New(DefaultParams()).Partition(in)
	assert.Equal(t, "a.org", in[0].Config.DomainName)
}

func TestPartition_ReportsJobSizes(t *testing.T) {
	m := &mockMetrics{}
	p := New(Params{MaxRelativeSizeDifference: 2, MinAbsoluteSizeDifference: 100, MaxTotalJobSize: 2000000}).WithMetrics(m)

	p.Partition([]Sized{sized("a.org", "default", 1000), sized("b.org", "default", 10)})

	assert.Equal(t, []int64{1000, 10}, m.sizes)
}

func TestPartition_NegativeExpectationPanics(t *testing.T) {
	assert.Panics(t, func() {
		New(DefaultParams()).Partition([]Sized{sized("a.org", "default", -1)})
	})
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		ok     bool
	}{
		{"defaults", DefaultParams(), true},
		{"ratio below one", Params{MaxRelativeSizeDifference: 0.5, MinAbsoluteSizeDifference: 0, MaxTotalJobSize: 1}, false},
		{"negative floor", Params{MaxRelativeSizeDifference: 1, MinAbsoluteSizeDifference: -1, MaxTotalJobSize: 1}, false},
		{"zero cap", Params{MaxRelativeSizeDifference: 1, MinAbsoluteSizeDifference: 0, MaxTotalJobSize: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}
