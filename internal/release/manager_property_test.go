package release

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// **At most one release in progress per milestone**
// For any batch of concurrent start, cancel and completion calls on one
// milestone, no more than one release of it is IN_PROGRESS afterwards, and
// every release that is not IN_PROGRESS has an end date.
func TestSingleReleaseInProgressProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent operations keep one release in progress", prop.ForAll(
		func(ops []int) bool {
			h := newHarness(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for _, op := range ops {
				wg.Add(1)
				go func(op int) {
					defer wg.Done()
					switch op {
					case 0:
						_, _ = h.m.StartRelease(ctx, StartRequest{MilestoneID: milestoneM})
					case 1:
						_, _ = h.m.Cancel(ctx, milestoneM, "")
					default:
						_ = h.m.OnReleaseCompleted(ctx, successResult())
					}
				}(op)
			}
			wg.Wait()

			last, err := h.store.Releases().NextID(ctx)
			if err != nil {
				return false
			}
			inProgress := 0
			for id := int64(1); id < last; id++ {
				release, err := h.store.Releases().Get(ctx, id)
				if err != nil {
					continue
				}
				if release.Status == models.ReleaseInProgress {
					inProgress++
				} else if release.EndDate == nil {
					return false
				}
			}
			return inProgress <= 1
		},
		gen.SliceOfN(12, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// **Every recognized import entry yields one push result**
// For any list of import entries with recognized statuses against existing
// build records, a completion stores exactly one push result per entry,
// each referencing its build record and the release.
func TestPushResultPerImportEntryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	genStatus := gen.OneConstOf(models.ImportSuccessful, models.ImportFailed, models.ImportError)

	properties.Property("push results mirror import entries", prop.ForAll(
		func(statuses []models.BuildImportStatus) bool {
			h := newHarness(t)
			ctx := context.Background()

			release, err := h.m.StartRelease(ctx, StartRequest{MilestoneID: milestoneM})
			if err != nil {
				return false
			}

			result := models.MilestoneReleaseResult{MilestoneID: milestoneM, ReleaseStatus: models.ReleaseStatusSuccess}
			for i, st := range statuses {
				result.Builds = append(result.Builds, models.BuildImportResult{BuildRecordID: "7", Status: st, BrewBuildID: i})
			}
			if err := h.m.OnReleaseCompleted(ctx, result); err != nil {
				return false
			}

			pushes, err := h.store.PushResults().ListByRelease(ctx, release.ID)
			if err != nil || len(pushes) != len(statuses) {
				return false
			}
			for i, p := range pushes {
				want, _ := statuses[i].PushStatus()
				if p.BuildRecordID != "7" || p.MilestoneReleaseID != release.ID || p.Status != want || p.BrewBuildID != i {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genStatus),
	))

	properties.TestingRun(t)
}
