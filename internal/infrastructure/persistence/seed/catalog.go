// Package seed loads the guidance catalog and document library from YAML
// and writes it through the store ports.
//
// File layout:
//
//	sections:
//	  - id: company-setup
//	    title: Set up the company
//	    category: company-setup
//	    position: 1
//	    steps:
//	      - id: register-company
//	        title: Register with Companies House
//	        difficulty: medium
//	        estimated_minutes: 60
//	        deadline_offset_days: 14
//	        prerequisites: [choose-name]
//	documents:
//	  - id: articles
//	    title: Articles of association
//	    category: company-setup
//	    required: true
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
)

// Catalog is the decoded seed file.
type Catalog struct {
	Sections  []SectionSpec       `yaml:"sections"`
	Documents []document.Document `yaml:"documents"`
}

// SectionSpec is a section with its steps nested inline. Steps inherit the
// section id, and the section category when they leave theirs blank.
type SectionSpec struct {
	guidance.Section `yaml:",inline"`
	Steps            []guidance.Step `yaml:"steps"`
}

// Writer is the subset of the store the loader needs.
type Writer interface {
	UpsertSection(ctx context.Context, s guidance.Section) error
	UpsertStep(ctx context.Context, s guidance.Step) error
	UpsertDocument(ctx context.Context, d document.Document) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Sections  int `json:"sections"`
	Steps     int `json:"steps"`
	Documents int `json:"documents"`
}

// LoadFile reads and validates a seed file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cat Catalog
	if err := dec.Decode(&cat); err != nil {
		if errors.Is(err, io.EOF) {
			return &cat, nil
		}
		return nil, fmt.Errorf("seed: decode: %w", err)
	}

	cat.normalize()
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) normalize() {
	for i := range c.Sections {
		sec := &c.Sections[i]
		for j := range sec.Steps {
			st := &sec.Steps[j]
			if st.SectionID == "" {
				st.SectionID = sec.ID
			}
			if st.Category == "" {
				st.Category = sec.Category
			}
			if st.Position == 0 {
				st.Position = j + 1
			}
		}
	}
}

// Validate checks every entry, id uniqueness, and that prerequisites refer
// to steps in the same file.
func (c *Catalog) Validate() error {
	var errs []error
	sections := make(map[string]bool)
	steps := make(map[string]bool)
	docs := make(map[string]bool)

	for _, sec := range c.Sections {
		if err := sec.Section.Validate(); err != nil {
			errs = append(errs, err)
		}
		if sections[sec.ID] {
			errs = append(errs, invalid("duplicate section %q", sec.ID))
		}
		sections[sec.ID] = true

		for _, st := range sec.Steps {
			if err := st.Validate(); err != nil {
				errs = append(errs, err)
			}
			if st.SectionID != sec.ID {
				errs = append(errs, invalid("step %q is nested in %q but names section %q", st.ID, sec.ID, st.SectionID))
			}
			if steps[st.ID] {
				errs = append(errs, invalid("duplicate step %q", st.ID))
			}
			steps[st.ID] = true
		}
	}

	for _, sec := range c.Sections {
		for _, st := range sec.Steps {
			for _, p := range st.PrerequisiteIDs {
				if !steps[p] {
					errs = append(errs, invalid("step %q requires unknown step %q", st.ID, p))
				}
			}
		}
	}

	for _, d := range c.Documents {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
		if docs[d.ID] {
			errs = append(errs, invalid("duplicate document %q", d.ID))
		}
		docs[d.ID] = true
	}

	return errors.Join(errs...)
}

// Apply upserts sections first, then steps, then documents. It stops at the
// first write error.
func Apply(ctx context.Context, w Writer, c *Catalog, log *logger.Logger) (Summary, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("seed"))

	var sum Summary
	for _, sec := range c.Sections {
		if err := w.UpsertSection(ctx, sec.Section); err != nil {
			return sum, fmt.Errorf("seed: section %s: %w", sec.ID, err)
		}
		sum.Sections++
	}
	for _, sec := range c.Sections {
		for _, st := range sec.Steps {
			if err := w.UpsertStep(ctx, st); err != nil {
				return sum, fmt.Errorf("seed: step %s: %w", st.ID, err)
			}
			sum.Steps++
		}
	}
	for _, d := range c.Documents {
		if err := w.UpsertDocument(ctx, d); err != nil {
			return sum, fmt.Errorf("seed: document %s: %w", d.ID, err)
		}
		sum.Documents++
	}

	log.Info("catalog seeded",
		logger.Count("sections", sum.Sections),
		logger.Count("steps", sum.Steps),
		logger.Count("documents", sum.Documents),
	)
	return sum, nil
}

func invalid(format string, args ...any) error {
	return shared.NewDomainError("seed", "Validate", shared.ErrInvalidInput, fmt.Sprintf(format, args...))
}
