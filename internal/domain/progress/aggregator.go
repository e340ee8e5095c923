package progress

import (
	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// SectionProgress is completion for one guidance section.
type SectionProgress struct {
	SectionID  string            `json:"section_id"`
	Title      string            `json:"title"`
	Category   string            `json:"category"`
	Completed  int               `json:"completed_steps"`
	Total      int               `json:"total_steps"`
	Percentage shared.Percentage `json:"progress_percentage"`
}

// CategoryProgress is document completion for one category.
type CategoryProgress struct {
	Category   document.Category `json:"category"`
	Completed  int               `json:"completed"`
	Total      int               `json:"total"`
	Percentage shared.Percentage `json:"progress_percentage"`
}

// StepReport is the guided-steps side of a progress snapshot.
type StepReport struct {
	Overall   shared.Percentage `json:"overall_percentage"`
	Completed int               `json:"completed_steps"`
	Total     int               `json:"total_steps"`
	Sections  []SectionProgress `json:"sections"`
}

// DocumentReport is the document-library side of a progress snapshot.
type DocumentReport struct {
	Overall    shared.Percentage  `json:"overall_percentage"`
	Completed  int                `json:"completed"`
	Total      int                `json:"total"`
	Categories []CategoryProgress `json:"categories"`
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// Aggregator computes percentages from a fetched snapshot. It holds no
// state; calling it twice on the same input yields the same report.
type Aggregator struct{}

// NewAggregator creates an aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Steps computes per-section and overall step completion. Sections appear
// in the order given; steps whose section is not listed get a trailing
// entry of their own.
func (a *Aggregator) Steps(sections []guidance.Section, steps []guidance.Step, rows []StepProgress) StepReport {
	completed := CompletedKeys(rows)

	type tally struct{ done, total int }
	bySection := make(map[string]*tally, len(sections))
	order := make([]string, 0, len(sections))
	meta := make(map[string]guidance.Section, len(sections))

	for _, s := range sections {
		if _, ok := bySection[s.ID]; ok {
			continue
		}
		bySection[s.ID] = &tally{}
		order = append(order, s.ID)
		meta[s.ID] = s
	}

	for _, st := range steps {
		t, ok := bySection[st.SectionID]
		if !ok {
			t = &tally{}
			bySection[st.SectionID] = t
			order = append(order, st.SectionID)
		}
		t.total++
		if _, done := completed[Key{SectionID: st.SectionID, StepID: st.ID}]; done {
			t.done++
		}
	}

	report := StepReport{Sections: make([]SectionProgress, 0, len(order))}
	for _, id := range order {
		t := bySection[id]
		m := meta[id]
		report.Sections = append(report.Sections, SectionProgress{
			SectionID:  id,
			Title:      m.Title,
			Category:   m.Category,
			Completed:  t.done,
			Total:      t.total,
			Percentage: shared.Percent(t.done, t.total),
		})
		report.Completed += t.done
		report.Total += t.total
	}
	report.Overall = shared.Percent(report.Completed, report.Total)
	return report
}

// Documents computes per-category and overall document completion over
// the fixed category list. Progress rows for documents outside the library
// are ignored.
func (a *Aggregator) Documents(docs []document.Document, rows []document.Progress) DocumentReport {
	done := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.IsCompleted() {
			done[r.DocumentID] = true
		}
	}

	type tally struct{ done, total int }
	byCat := make(map[document.Category]*tally)
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		t, ok := byCat[d.Category]
		if !ok {
			t = &tally{}
			byCat[d.Category] = t
		}
		t.total++
		if done[d.ID] {
			t.done++
		}
	}

	cats := document.AllCategories()
	report := DocumentReport{Categories: make([]CategoryProgress, 0, len(cats))}
	for _, c := range cats {
		t := byCat[c]
		if t == nil {
			t = &tally{}
		}
		report.Categories = append(report.Categories, CategoryProgress{
			Category:   c,
			Completed:  t.done,
			Total:      t.total,
			Percentage: shared.Percent(t.done, t.total),
		})
		report.Completed += t.done
		report.Total += t.total
	}
	report.Overall = shared.Percent(report.Completed, report.Total)
	return report
}
