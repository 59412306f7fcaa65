package enforcer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/starford/docgate/internal/guard"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEnforce_ConcurrentDistinctTargets(t *testing.T) {
	f := newFixture(t, guard.PolicyAdvisory)
	content := apiDocument("Overview", "API", "Examples")

	var wg sync.WaitGroup
	results := make([]*Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.enf.Enforce(context.Background(), Request{
				TemplateID: "api",
				Target:     fmt.Sprintf("docs/api-%02d.md", i),
				Content:    content,
			})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.Success, "run %d: %s", i, res.Reason)
		got, err := os.ReadFile(res.Path)
		require.NoError(t, err)
		assert.Equal(t, content, string(got))
	}
	assert.EqualValues(t, len(results), f.writer.writes.Load())
	assert.Equal(t, 1, f.enf.state.Schemas.Len(), "schema built once and reused")
}

func TestEnforce_ConcurrentIdenticalWritesCollapse(t *testing.T) {
	f := newFixture(t, guard.PolicyAdvisory)
	req := Request{TemplateID: "api", Target: "docs/x.md", Content: apiDocument("Overview", "API", "Examples")}

	var (
		wg   sync.WaitGroup
		dups atomic.Int32
	)
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := f.enf.Enforce(context.Background(), req)
			if res.Duplicate != nil && res.Duplicate.IsDuplicate {
				dups.Add(1)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.True(t, res.Success, "run %d: %s", i, res.Reason)
	}
	assert.EqualValues(t, 1, f.writer.writes.Load(), "one file write for identical concurrent requests")
	assert.EqualValues(t, len(results)-1, dups.Load())
}
