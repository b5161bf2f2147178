// Package dataset loads evaluation datasets from YAML and seeds them into a
// store and catalog. The CLI runs its reports over a loaded dataset and the
// package tests build their scenarios with it.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var validate = validator.New()

// Dataset is a complete evaluation: structure, collaborator data, users and
// scores.
type Dataset struct {
	Metadata     Metadata      `yaml:"metadata"`
	Evaluation   Evaluation    `yaml:"evaluation"`
	Categories   []Category    `yaml:"categories" validate:"dive"`
	Vendors      []Vendor      `yaml:"vendors" validate:"dive"`
	Requirements []Requirement `yaml:"requirements,omitempty" validate:"dive"`
	Evidence     []Evidence    `yaml:"evidence,omitempty" validate:"dive"`
	Questions    []Question    `yaml:"questions,omitempty" validate:"dive"`
	Responses    []Response    `yaml:"responses,omitempty" validate:"dive"`
	Metrics      []Metric      `yaml:"metrics,omitempty" validate:"dive"`
	Users        []User        `yaml:"users,omitempty" validate:"dive"`
	Scores       []Score       `yaml:"scores,omitempty" validate:"dive"`
}

// Metadata describes the dataset itself.
type Metadata struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

// Evaluation is the evaluation header.
type Evaluation struct {
	ID           string       `yaml:"id" validate:"required"`
	Name         string       `yaml:"name" validate:"required"`
	Phase        domain.Phase `yaml:"phase" validate:"required"`
	BlindScoring bool         `yaml:"blind_scoring"`
	Scale        domain.Scale `yaml:"scale"`
	CreatedAt    time.Time    `yaml:"created_at"`
}

// Category is a category with its criteria.
type Category struct {
	ID        string      `yaml:"id" validate:"required"`
	Name      string      `yaml:"name" validate:"required"`
	Weight    float64     `yaml:"weight" validate:"gte=0,lte=100"`
	SortOrder int         `yaml:"sort_order"`
	Criteria  []Criterion `yaml:"criteria" validate:"dive"`
}

// Criterion is one scored dimension of a category.
type Criterion struct {
	ID             string   `yaml:"id" validate:"required"`
	Name           string   `yaml:"name" validate:"required"`
	Weight         float64  `yaml:"weight" validate:"gte=0,lte=100"`
	SortOrder      int      `yaml:"sort_order"`
	RequirementIDs []string `yaml:"requirement_ids,omitempty"`
}

// Vendor is a participating vendor.
type Vendor struct {
	ID        string             `yaml:"id" validate:"required"`
	Name      string             `yaml:"name" validate:"required"`
	Stage     domain.VendorStage `yaml:"stage" validate:"required"`
	CreatedAt time.Time          `yaml:"created_at"`
}

// Requirement is a requirement with its criterion linkage.
type Requirement struct {
	ID           string          `yaml:"id" validate:"required"`
	Title        string          `yaml:"title" validate:"required"`
	Priority     domain.Priority `yaml:"priority" validate:"required"`
	CategoryID   string          `yaml:"category_id,omitempty"`
	CriterionIDs []string        `yaml:"criterion_ids,omitempty"`
}

// Evidence links supporting material to a criterion and vendor.
type Evidence struct {
	ID          string              `yaml:"id" validate:"required"`
	CriterionID string              `yaml:"criterion_id" validate:"required"`
	VendorID    string              `yaml:"vendor_id" validate:"required"`
	Type        domain.EvidenceType `yaml:"type" validate:"required"`
	Title       string              `yaml:"title"`
	URI         string              `yaml:"uri,omitempty" validate:"omitempty,uri"`
}

// Question is a question put to vendors for a criterion.
type Question struct {
	ID          string `yaml:"id" validate:"required"`
	CriterionID string `yaml:"criterion_id" validate:"required"`
	Text        string `yaml:"text" validate:"required"`
	SortOrder   int    `yaml:"sort_order"`
}

// Response is a vendor's answer to a question.
type Response struct {
	ID         string `yaml:"id" validate:"required"`
	QuestionID string `yaml:"question_id" validate:"required"`
	VendorID   string `yaml:"vendor_id" validate:"required"`
	Text       string `yaml:"text"`
}

// Metric is a raw commercial or delivery value.
type Metric struct {
	VendorID  string           `yaml:"vendor_id" validate:"required"`
	Dimension domain.Dimension `yaml:"dimension" validate:"required"`
	Value     float64          `yaml:"value"`
}

// User is an actor with a role in the evaluation.
type User struct {
	ID   string      `yaml:"id" validate:"required"`
	Role domain.Role `yaml:"role" validate:"required"`
}

// Score is one evaluator score.
type Score struct {
	VendorID    string             `yaml:"vendor_id" validate:"required"`
	CriterionID string             `yaml:"criterion_id" validate:"required"`
	EvaluatorID string             `yaml:"evaluator_id" validate:"required"`
	Value       float64            `yaml:"value"`
	Rationale   string             `yaml:"rationale"`
	Status      domain.ScoreStatus `yaml:"status" validate:"required"`
	EvidenceIDs []string           `yaml:"evidence_ids,omitempty"`
}

// Load reads and validates a dataset file.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return ds, nil
}

// Parse decodes and validates a YAML dataset.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset YAML: %w", err)
	}
	if err := Validate(&ds); err != nil {
		return nil, fmt.Errorf("dataset validation failed: %w", err)
	}
	return &ds, nil
}

// Save writes ds as YAML, creating the directory when needed.
func Save(ds *Dataset, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := yaml.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset file: %w", err)
	}
	return nil
}

// Validate checks struct tags, closed enums, unique IDs and every
// cross-reference. Weights are not required to balance: an evaluation in
// setup may be mid-edit.
func Validate(ds *Dataset) error {
	if ds == nil {
		return fmt.Errorf("dataset is nil")
	}
	if err := validate.Struct(ds); err != nil {
		return err
	}

	verr := domain.NewValidationError("Dataset")
	if !ds.Evaluation.Phase.Valid() {
		verr.AddError(fmt.Sprintf("unknown phase %q", ds.Evaluation.Phase))
	}
	scale := domain.Evaluation{Scale: ds.Evaluation.Scale}.EffectiveScale()
	if scale.Min >= scale.Max {
		verr.AddError(fmt.Sprintf("scale %s must have min below max", scale))
	}

	categories := unique(verr, "category")
	criteria := unique(verr, "criterion")
	for _, c := range ds.Categories {
		categories.add(c.ID)
		for _, cr := range c.Criteria {
			criteria.add(cr.ID)
		}
	}
	vendors := unique(verr, "vendor")
	for _, v := range ds.Vendors {
		vendors.add(v.ID)
		if !v.Stage.Valid() {
			verr.AddError(fmt.Sprintf("vendor %s: unknown stage %q", v.ID, v.Stage))
		}
	}
	requirements := unique(verr, "requirement")
	for _, r := range ds.Requirements {
		requirements.add(r.ID)
		if !r.Priority.Valid() {
			verr.AddError(fmt.Sprintf("requirement %s: unknown priority %q", r.ID, r.Priority))
		}
		if r.CategoryID != "" {
			categories.ref("requirement "+r.ID, r.CategoryID)
		}
		for _, id := range r.CriterionIDs {
			criteria.ref("requirement "+r.ID, id)
		}
	}
	for _, c := range ds.Categories {
		for _, cr := range c.Criteria {
			for _, id := range cr.RequirementIDs {
				requirements.ref("criterion "+cr.ID, id)
			}
		}
	}
	evidence := unique(verr, "evidence")
	for _, e := range ds.Evidence {
		evidence.add(e.ID)
		if !e.Type.Valid() {
			verr.AddError(fmt.Sprintf("evidence %s: unknown type %q", e.ID, e.Type))
		}
		criteria.ref("evidence "+e.ID, e.CriterionID)
		vendors.ref("evidence "+e.ID, e.VendorID)
	}
	questions := unique(verr, "question")
	for _, q := range ds.Questions {
		questions.add(q.ID)
		criteria.ref("question "+q.ID, q.CriterionID)
	}
	for _, r := range ds.Responses {
		questions.ref("response "+r.ID, r.QuestionID)
		vendors.ref("response "+r.ID, r.VendorID)
	}
	for _, m := range ds.Metrics {
		if !m.Dimension.Valid() {
			verr.AddError(fmt.Sprintf("metric for %s: unknown dimension %q", m.VendorID, m.Dimension))
		}
		vendors.ref("metric", m.VendorID)
	}
	users := unique(verr, "user")
	for _, u := range ds.Users {
		users.add(u.ID)
		if !u.Role.Valid() {
			verr.AddError(fmt.Sprintf("user %s: unknown role %q", u.ID, u.Role))
		}
	}

	seen := make(map[domain.ScoreKey]bool)
	for i, s := range ds.Scores {
		key := domain.ScoreKey{VendorID: s.VendorID, CriterionID: s.CriterionID, EvaluatorID: s.EvaluatorID}
		if seen[key] {
			verr.AddError(fmt.Sprintf("score %d: duplicate score for %s", i, key))
		}
		seen[key] = true
		vendors.ref(fmt.Sprintf("score %d", i), s.VendorID)
		criteria.ref(fmt.Sprintf("score %d", i), s.CriterionID)
		users.ref(fmt.Sprintf("score %d", i), s.EvaluatorID)
		for _, id := range s.EvidenceIDs {
			evidence.ref(fmt.Sprintf("score %d", i), id)
		}
		sc := domain.Score{
			VendorID:    s.VendorID,
			CriterionID: s.CriterionID,
			EvaluatorID: s.EvaluatorID,
			Value:       s.Value,
			Rationale:   s.Rationale,
			Status:      s.Status,
		}
		var serr *domain.ValidationError
		if err := sc.Validate(scale); errors.As(err, &serr) {
			for _, msg := range serr.Errors {
				verr.AddError(fmt.Sprintf("score %d: %s", i, msg))
			}
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// CatalogSeeder receives the collaborator data of a dataset.
type CatalogSeeder interface {
	AddVendor(v domain.Vendor)
	AddRequirement(r domain.Requirement)
	AddEvidence(e domain.Evidence)
	AddQuestion(q domain.Question)
	AddResponse(r domain.VendorResponse)
	AddMetric(evaluationID string, m domain.VendorMetric)
	SetRole(evaluationID, userID string, role domain.Role)
}

// Seed writes ds into store and catalog. Scores are written without lock
// scopes; the dataset describes a state, not a sequence of actions.
func Seed(ctx context.Context, ds *Dataset, store ports.Store, catalog CatalogSeeder) (domain.Evaluation, error) {
	evalID := ds.Evaluation.ID
	created := ds.Evaluation.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	eval := domain.Evaluation{
		ID:           evalID,
		Name:         ds.Evaluation.Name,
		Phase:        ds.Evaluation.Phase,
		BlindScoring: ds.Evaluation.BlindScoring,
		Scale:        ds.Evaluation.Scale,
		CreatedAt:    created,
	}
	if eval.Phase.Reveals() {
		at := created
		eval.RevealedAt = &at
	}
	if _, err := store.CreateEvaluation(ctx, eval); err != nil {
		return domain.Evaluation{}, fmt.Errorf("seed evaluation: %w", err)
	}

	for _, c := range ds.Categories {
		if err := store.SaveCategory(ctx, domain.Category{
			ID:           c.ID,
			EvaluationID: evalID,
			Name:         c.Name,
			Weight:       c.Weight,
			SortOrder:    c.SortOrder,
			CreatedAt:    created,
		}); err != nil {
			return domain.Evaluation{}, fmt.Errorf("seed category %s: %w", c.ID, err)
		}
		for _, cr := range c.Criteria {
			if err := store.SaveCriterion(ctx, domain.Criterion{
				ID:             cr.ID,
				EvaluationID:   evalID,
				CategoryID:     c.ID,
				Name:           cr.Name,
				Weight:         cr.Weight,
				SortOrder:      cr.SortOrder,
				RequirementIDs: cr.RequirementIDs,
			}); err != nil {
				return domain.Evaluation{}, fmt.Errorf("seed criterion %s: %w", cr.ID, err)
			}
		}
	}

	SeedCatalog(ds, catalog)

	for _, s := range ds.Scores {
		score := domain.Score{
			EvaluationID: evalID,
			VendorID:     s.VendorID,
			CriterionID:  s.CriterionID,
			EvaluatorID:  s.EvaluatorID,
			Value:        s.Value,
			Rationale:    s.Rationale,
			Status:       s.Status,
			UpdatedAt:    created,
			EvidenceIDs:  s.EvidenceIDs,
		}
		if score.Submitted() {
			score.SubmittedAt = created
		}
		if _, err := store.WriteScore(ctx, score, 0, nil); err != nil {
			return domain.Evaluation{}, fmt.Errorf("seed score %s: %w", score.Key(), err)
		}
	}

	return store.GetEvaluation(ctx, evalID)
}

// SeedCatalog loads the collaborator data of ds (vendors, requirements,
// evidence, questions, responses, metrics and roles) into catalog. It is
// used on its own when the store already holds the evaluation.
func SeedCatalog(ds *Dataset, catalog CatalogSeeder) {
	evalID := ds.Evaluation.ID
	created := ds.Evaluation.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	for i, v := range ds.Vendors {
		at := v.CreatedAt
		if at.IsZero() {
			at = created.Add(time.Duration(i) * time.Second)
		}
		catalog.AddVendor(domain.Vendor{ID: v.ID, EvaluationID: evalID, Name: v.Name, Stage: v.Stage, CreatedAt: at})
	}
	for _, r := range ds.Requirements {
		catalog.AddRequirement(domain.Requirement{
			ID:           r.ID,
			EvaluationID: evalID,
			Title:        r.Title,
			Priority:     r.Priority,
			CategoryID:   r.CategoryID,
			CriterionIDs: r.CriterionIDs,
		})
	}
	for _, e := range ds.Evidence {
		catalog.AddEvidence(domain.Evidence{
			ID:           e.ID,
			EvaluationID: evalID,
			CriterionID:  e.CriterionID,
			VendorID:     e.VendorID,
			Type:         e.Type,
			Title:        e.Title,
			URI:          e.URI,
		})
	}
	for _, q := range ds.Questions {
		catalog.AddQuestion(domain.Question{ID: q.ID, EvaluationID: evalID, CriterionID: q.CriterionID, Text: q.Text, SortOrder: q.SortOrder})
	}
	for _, r := range ds.Responses {
		catalog.AddResponse(domain.VendorResponse{ID: r.ID, EvaluationID: evalID, QuestionID: r.QuestionID, VendorID: r.VendorID, Text: r.Text})
	}
	for _, m := range ds.Metrics {
		catalog.AddMetric(evalID, domain.VendorMetric{VendorID: m.VendorID, Dimension: m.Dimension, Value: m.Value})
	}
	for _, u := range ds.Users {
		catalog.SetRole(evalID, u.ID, u.Role)
	}
}

// Statistics summarises a dataset.
type Statistics struct {
	Vendors          int
	ActiveVendors    int
	Categories       int
	Criteria         int
	Requirements     int
	ByPriority       map[domain.Priority]int
	SubmittedScores  int
	DraftScores      int
	Evaluators       int
	UnlinkedCriteria int
}

// ComputeStatistics analyses a dataset.
func ComputeStatistics(ds *Dataset) Statistics {
	st := Statistics{
		Vendors:      len(ds.Vendors),
		Categories:   len(ds.Categories),
		Requirements: len(ds.Requirements),
		ByPriority:   make(map[domain.Priority]int),
	}
	for _, v := range ds.Vendors {
		if (domain.Vendor{Stage: v.Stage}).Active() {
			st.ActiveVendors++
		}
	}
	linked := make(map[string]bool)
	for _, r := range ds.Requirements {
		st.ByPriority[r.Priority]++
		for _, id := range r.CriterionIDs {
			linked[id] = true
		}
	}
	for _, c := range ds.Categories {
		st.Criteria += len(c.Criteria)
		for _, cr := range c.Criteria {
			if !linked[cr.ID] && len(cr.RequirementIDs) == 0 {
				st.UnlinkedCriteria++
			}
		}
	}
	evaluators := make(map[string]bool)
	for _, s := range ds.Scores {
		evaluators[s.EvaluatorID] = true
		if s.Status == domain.ScoreSubmitted {
			st.SubmittedScores++
		} else {
			st.DraftScores++
		}
	}
	st.Evaluators = len(evaluators)
	return st
}

type idSet struct {
	verr   *domain.ValidationError
	entity string
	ids    map[string]bool
}

func unique(verr *domain.ValidationError, entity string) *idSet {
	return &idSet{verr: verr, entity: entity, ids: make(map[string]bool)}
}

func (s *idSet) add(id string) {
	if s.ids[id] {
		s.verr.AddError(fmt.Sprintf("duplicate %s ID %s", s.entity, id))
	}
	s.ids[id] = true
}

func (s *idSet) ref(from, id string) {
	if !s.ids[id] {
		s.verr.AddError(fmt.Sprintf("%s references unknown %s %s", from, s.entity, id))
	}
}
