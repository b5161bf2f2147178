package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var (
	_ ports.Catalog   = (*MemoryCatalog)(nil)
	_ ports.Directory = (*MemoryCatalog)(nil)
)

// MemoryCatalog holds the read-only collaborator data (vendors,
// requirements, evidence, questions, responses, vendor metrics and roles)
// that the engine consumes but never mutates. It is seeded through the Add
// methods, typically by the dataset loader.
type MemoryCatalog struct {
	mu sync.RWMutex

	vendors      map[string]domain.Vendor
	requirements map[string][]domain.Requirement
	evidence     map[string][]domain.Evidence
	questions    map[string][]domain.Question
	responses    map[string][]domain.VendorResponse
	metrics      map[string][]domain.VendorMetric
	roles        map[string]map[string]domain.Role
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		vendors:      make(map[string]domain.Vendor),
		requirements: make(map[string][]domain.Requirement),
		evidence:     make(map[string][]domain.Evidence),
		questions:    make(map[string][]domain.Question),
		responses:    make(map[string][]domain.VendorResponse),
		metrics:      make(map[string][]domain.VendorMetric),
		roles:        make(map[string]map[string]domain.Role),
	}
}

// AddVendor registers a vendor.
func (c *MemoryCatalog) AddVendor(v domain.Vendor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vendors[v.ID] = v
}

// AddRequirement registers a requirement.
func (c *MemoryCatalog) AddRequirement(r domain.Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.CriterionIDs = slices.Clone(r.CriterionIDs)
	c.requirements[r.EvaluationID] = append(c.requirements[r.EvaluationID], r)
}

// AddEvidence registers an evidence link.
func (c *MemoryCatalog) AddEvidence(e domain.Evidence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evidence[e.EvaluationID] = append(c.evidence[e.EvaluationID], e)
}

// AddQuestion registers a question.
func (c *MemoryCatalog) AddQuestion(q domain.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questions[q.EvaluationID] = append(c.questions[q.EvaluationID], q)
}

// AddResponse registers a vendor response.
func (c *MemoryCatalog) AddResponse(r domain.VendorResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[r.EvaluationID] = append(c.responses[r.EvaluationID], r)
}

// AddMetric registers a raw vendor metric for an evaluation.
func (c *MemoryCatalog) AddMetric(evaluationID string, m domain.VendorMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[evaluationID] = append(c.metrics[evaluationID], m)
}

// SetRole assigns userID a role in the evaluation.
func (c *MemoryCatalog) SetRole(evaluationID, userID string, role domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roles[evaluationID] == nil {
		c.roles[evaluationID] = make(map[string]domain.Role)
	}
	c.roles[evaluationID][userID] = role
}

// Vendor returns a vendor by ID.
func (c *MemoryCatalog) Vendor(_ context.Context, id string) (domain.Vendor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.vendors[id]
	if !ok {
		return domain.Vendor{}, notFound("vendor", id)
	}
	return v, nil
}

// Vendors returns the vendors of an evaluation in creation order.
func (c *MemoryCatalog) Vendors(_ context.Context, evaluationID string) ([]domain.Vendor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Vendor, 0)
	for _, v := range c.vendors {
		if v.EvaluationID == evaluationID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Requirements returns the requirements of an evaluation.
func (c *MemoryCatalog) Requirements(_ context.Context, evaluationID string) ([]domain.Requirement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Requirement, len(c.requirements[evaluationID]))
	for i, r := range c.requirements[evaluationID] {
		r.CriterionIDs = slices.Clone(r.CriterionIDs)
		out[i] = r
	}
	return out, nil
}

// Evidence returns the evidence links of an evaluation.
func (c *MemoryCatalog) Evidence(_ context.Context, evaluationID string) ([]domain.Evidence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.evidence[evaluationID]), nil
}

// Questions returns the questions of an evaluation.
func (c *MemoryCatalog) Questions(_ context.Context, evaluationID string) ([]domain.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.questions[evaluationID]), nil
}

// Responses returns the vendor responses of an evaluation.
func (c *MemoryCatalog) Responses(_ context.Context, evaluationID string) ([]domain.VendorResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.responses[evaluationID]), nil
}

// VendorMetrics returns the raw vendor metrics of an evaluation.
func (c *MemoryCatalog) VendorMetrics(_ context.Context, evaluationID string) ([]domain.VendorMetric, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.metrics[evaluationID]), nil
}

// Role returns the role of userID in the evaluation.
func (c *MemoryCatalog) Role(_ context.Context, evaluationID, userID string) (domain.Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	role, ok := c.roles[evaluationID][userID]
	if !ok {
		return "", notFound("user", userID)
	}
	return role, nil
}
