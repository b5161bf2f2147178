package scoring

import (
	"fmt"
	"slices"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// RAG is the red/amber/green status of a matrix cell.
type RAG string

// RAG statuses.
const (
	RAGGreen RAG = "green"
	RAGAmber RAG = "amber"
	RAGRed   RAG = "red"
	RAGNone  RAG = "none"
)

// RAGThresholds classify cell values: at least Green is green, at least
// Amber is amber, anything lower is red.
type RAGThresholds struct {
	Green float64 `yaml:"green" json:"green" validate:"gtfield=Amber"`
	Amber float64 `yaml:"amber" json:"amber"`
}

// DefaultRAGThresholds returns green 4, amber 3.
func DefaultRAGThresholds() RAGThresholds { return RAGThresholds{Green: 4, Amber: 3} }

// Classify returns the RAG status of a value; unscored cells are none.
func (t RAGThresholds) Classify(value float64, scored bool) RAG {
	switch {
	case !scored:
		return RAGNone
	case value >= t.Green:
		return RAGGreen
	case value >= t.Amber:
		return RAGAmber
	default:
		return RAGRed
	}
}

// Cell is one requirement × vendor intersection.
type Cell struct {
	RequirementID string   `json:"requirement_id"`
	VendorID      string   `json:"vendor_id"`
	Value         float64  `json:"value"`
	Scored        bool     `json:"scored"`
	RAG           RAG      `json:"rag"`
	CriterionIDs  []string `json:"criterion_ids"`

	// Resolved counts linked criteria with a value that counts, Consensus
	// those resolved by locked consensus, Unresolved those past their
	// reconciliation deadline.
	Resolved   int `json:"resolved"`
	Consensus  int `json:"consensus"`
	Unresolved int `json:"unresolved"`
}

// Row is one requirement across the vendors.
type Row struct {
	Requirement domain.Requirement `json:"requirement"`
	Cells       []Cell             `json:"cells"`
}

// Coverage is the share of requirements whose linked criteria are scored
// for every active vendor.
type Coverage struct {
	Covered int     `json:"covered"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Filters narrow the matrix. Zero values match everything.
type Filters struct {
	Priorities   []domain.Priority `json:"priorities,omitempty"`
	CategoryID   string            `json:"category_id,omitempty"`
	VendorIDs    []string          `json:"vendor_ids,omitempty"`
	RAG          []RAG             `json:"rag,omitempty"`
	UnscoredOnly bool              `json:"unscored_only,omitempty"`
}

// Matrix is the requirement × vendor grid of one evaluation. Coverage is
// computed over every requirement regardless of filters.
type Matrix struct {
	EvaluationID string          `json:"evaluation_id"`
	Version      int64           `json:"version"`
	Vendors      []domain.Vendor `json:"vendors"`
	Rows         []Row           `json:"rows"`
	Coverage     Coverage        `json:"coverage"`

	snap *Snapshot
	agg  *Aggregator
}

// Linker assembles traceability matrices.
type Linker struct {
	agg        *Aggregator
	thresholds RAGThresholds
}

// NewLinker creates a Linker.
func NewLinker(agg *Aggregator, thresholds RAGThresholds) (*Linker, error) {
	if thresholds.Green <= thresholds.Amber {
		return nil, fmt.Errorf("%w: RAG green threshold must exceed amber", domain.ErrInvalidConfiguration)
	}
	return &Linker{agg: agg, thresholds: thresholds}, nil
}

// Build assembles the matrix. Each cell is the mean of the resolved values
// of the requirement's linked criteria; a criterion resolves to its locked
// consensus, else to the combination of its submitted scores.
func (l *Linker) Build(snap *Snapshot, filters Filters) (*Matrix, error) {
	vendors := snap.ActiveVendors()
	m := &Matrix{
		EvaluationID: snap.Evaluation.ID,
		Version:      snap.Evaluation.Version,
		Rows:         make([]Row, 0, len(snap.Requirements)),
		snap:         snap,
		agg:          l.agg,
	}

	for _, req := range snap.Requirements {
		linked := snap.index().criteriaByRequirement[req.ID]
		covered := len(linked) > 0
		row := Row{Requirement: req, Cells: make([]Cell, 0, len(vendors))}
		for _, v := range vendors {
			cell, err := l.cell(snap, req.ID, v.ID, linked)
			if err != nil {
				return nil, err
			}
			covered = covered && cell.complete(len(linked))
			row.Cells = append(row.Cells, cell)
		}
		m.Coverage.Total++
		if covered {
			m.Coverage.Covered++
		}
		if !filters.matchRow(snap, req, linked) {
			continue
		}
		row.Cells = filters.filterCells(row.Cells)
		if len(row.Cells) == 0 && (len(filters.RAG) > 0 || filters.UnscoredOnly) {
			continue
		}
		m.Rows = append(m.Rows, row)
	}
	if m.Coverage.Total > 0 {
		m.Coverage.Percent = 100 * float64(m.Coverage.Covered) / float64(m.Coverage.Total)
	}

	m.Vendors = make([]domain.Vendor, 0, len(vendors))
	for _, v := range vendors {
		if len(filters.VendorIDs) == 0 || slices.Contains(filters.VendorIDs, v.ID) {
			m.Vendors = append(m.Vendors, v)
		}
	}
	return m, nil
}

// complete reports whether every linked criterion resolved.
func (c Cell) complete(linked int) bool { return linked > 0 && c.Resolved == linked }

func (l *Linker) cell(snap *Snapshot, reqID, vendorID string, linked []string) (Cell, error) {
	cell := Cell{RequirementID: reqID, VendorID: vendorID, CriterionIDs: slices.Clone(linked)}
	var sum float64
	for _, critID := range linked {
		cr, err := l.agg.CriterionScore(snap, vendorID, critID)
		if err != nil {
			return Cell{}, err
		}
		switch cr.Status {
		case StatusConsensus:
			cell.Consensus++
		case StatusUnresolved:
			cell.Unresolved++
		}
		if cr.Resolved() {
			sum += cr.Value
			cell.Resolved++
		}
	}
	if cell.Resolved > 0 {
		cell.Scored = true
		cell.Value = sum / float64(cell.Resolved)
	}
	cell.RAG = l.thresholds.Classify(cell.Value, cell.Scored)
	return cell, nil
}

func (f Filters) matchRow(snap *Snapshot, req domain.Requirement, linked []string) bool {
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, req.Priority) {
		return false
	}
	if f.CategoryID == "" {
		return true
	}
	if req.CategoryID == f.CategoryID {
		return true
	}
	for _, id := range linked {
		if c, ok := snap.Criterion(id); ok && c.CategoryID == f.CategoryID {
			return true
		}
	}
	return false
}

func (f Filters) filterCells(cells []Cell) []Cell {
	out := make([]Cell, 0, len(cells))
	for _, c := range cells {
		if len(f.VendorIDs) > 0 && !slices.Contains(f.VendorIDs, c.VendorID) {
			continue
		}
		if len(f.RAG) > 0 && !slices.Contains(f.RAG, c.RAG) {
			continue
		}
		if f.UnscoredOnly && c.Scored {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CriterionTrail is one linked criterion in a drilldown.
type CriterionTrail struct {
	Criterion      domain.Criterion       `json:"criterion"`
	Result         CriterionResult        `json:"result"`
	Questions      []QuestionTrail        `json:"questions"`
	Evidence       []domain.Evidence      `json:"evidence"`
	Scores         []domain.Score         `json:"scores"`
	Consensus      *domain.ConsensusScore `json:"consensus,omitempty"`
	Reconciliation *domain.Reconciliation `json:"reconciliation,omitempty"`
}

// QuestionTrail is a question with the vendor's responses to it.
type QuestionTrail struct {
	Question  domain.Question         `json:"question"`
	Responses []domain.VendorResponse `json:"responses"`
}

// Drilldown is the full chain behind one cell: requirement, criteria,
// questions, vendor responses, evidence, evaluator scores and consensus.
type Drilldown struct {
	Requirement domain.Requirement `json:"requirement"`
	Vendor      domain.Vendor      `json:"vendor"`
	Criteria    []CriterionTrail   `json:"criteria"`
}

// Drilldown resolves one cell from the snapshot's precomputed indices.
// Scores holds every submitted score of the pair; callers apply visibility.
func (m *Matrix) Drilldown(requirementID, vendorID string) (Drilldown, error) {
	var (
		req   domain.Requirement
		found bool
	)
	for _, r := range m.snap.Requirements {
		if r.ID == requirementID {
			req, found = r, true
			break
		}
	}
	if !found {
		return Drilldown{}, fmt.Errorf("requirement %s: %w", requirementID, domain.ErrNotFound)
	}
	vendor, ok := m.snap.Vendor(vendorID)
	if !ok {
		return Drilldown{}, fmt.Errorf("vendor %s: %w", vendorID, domain.ErrNotFound)
	}

	ix := m.snap.index()
	d := Drilldown{Requirement: req, Vendor: vendor, Criteria: make([]CriterionTrail, 0)}
	for _, critID := range ix.criteriaByRequirement[requirementID] {
		pair := domain.PairKey{VendorID: vendorID, CriterionID: critID}
		result, err := m.agg.CriterionScore(m.snap, vendorID, critID)
		if err != nil {
			return Drilldown{}, err
		}
		trail := CriterionTrail{
			Criterion: ix.criteria[critID],
			Result:    result,
			Questions: make([]QuestionTrail, 0, len(ix.questionsByCriterion[critID])),
			Evidence:  slices.Clone(ix.evidence[pair]),
			Scores:    slices.Clone(ix.submitted[pair]),
		}
		for _, q := range ix.questionsByCriterion[critID] {
			trail.Questions = append(trail.Questions, QuestionTrail{
				Question:  q,
				Responses: slices.Clone(ix.responses[responseKey{QuestionID: q.ID, VendorID: vendorID}]),
			})
		}
		if c, ok := ix.consensus[pair]; ok {
			trail.Consensus = &c
		}
		if r, ok := ix.reconciliations[pair]; ok {
			rc := r.Clone()
			trail.Reconciliation = &rc
		}
		d.Criteria = append(d.Criteria, trail)
	}
	return d, nil
}
