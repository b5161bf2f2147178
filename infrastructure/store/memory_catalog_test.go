package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

func TestMemoryCatalog_Vendors(t *testing.T) {
	c, ctx := NewMemoryCatalog(), context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.AddVendor(domain.Vendor{ID: "v3", EvaluationID: "e", Stage: domain.VendorStageResponded, CreatedAt: base.Add(time.Hour)})
	c.AddVendor(domain.Vendor{ID: "v2", EvaluationID: "e", Stage: domain.VendorStageResponded, CreatedAt: base})
	c.AddVendor(domain.Vendor{ID: "v1", EvaluationID: "e", Stage: domain.VendorStageWithdrawn, CreatedAt: base})
	c.AddVendor(domain.Vendor{ID: "other", EvaluationID: "f", CreatedAt: base})

	vendors, err := c.Vendors(ctx, "e")
	require.NoError(t, err)
	ids := make([]string, len(vendors))
	for i, v := range vendors {
		ids[i] = v.ID
	}
	assert.Equal(t, []string{"v1", "v2", "v3"}, ids)

	v, err := c.Vendor(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, v.Active())

	_, err = c.Vendor(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryCatalog_Collections(t *testing.T) {
	c, ctx := NewMemoryCatalog(), context.Background()
	c.AddRequirement(domain.Requirement{ID: "r1", EvaluationID: "e", Priority: domain.PriorityMustHave, CriterionIDs: []string{"a"}})
	c.AddEvidence(domain.Evidence{ID: "ev1", EvaluationID: "e", CriterionID: "a", VendorID: "v1", Type: domain.EvidenceDemonstration})
	c.AddQuestion(domain.Question{ID: "q1", EvaluationID: "e", CriterionID: "a"})
	c.AddResponse(domain.VendorResponse{ID: "resp1", EvaluationID: "e", QuestionID: "q1", VendorID: "v1"})
	c.AddMetric("e", domain.VendorMetric{VendorID: "v1", Dimension: domain.DimensionPrice, Value: 100000})

	reqs, err := c.Requirements(ctx, "e")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	reqs[0].CriterionIDs[0] = "tampered"
	reqs, _ = c.Requirements(ctx, "e")
	assert.Equal(t, []string{"a"}, reqs[0].CriterionIDs)

	ev, _ := c.Evidence(ctx, "e")
	assert.Len(t, ev, 1)
	qs, _ := c.Questions(ctx, "e")
	assert.Len(t, qs, 1)
	rs, _ := c.Responses(ctx, "e")
	assert.Len(t, rs, 1)
	ms, _ := c.VendorMetrics(ctx, "e")
	assert.Equal(t, []domain.VendorMetric{{VendorID: "v1", Dimension: domain.DimensionPrice, Value: 100000}}, ms)

	empty, err := c.Evidence(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryCatalog_Role(t *testing.T) {
	c, ctx := NewMemoryCatalog(), context.Background()
	c.SetRole("e", "alice", domain.RoleLead)

	role, err := c.Role(ctx, "e", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLead, role)

	_, err = c.Role(ctx, "other", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
