// Package receipt summarises a flow's answers as text: one section per
// applicable step, one entry per visible field. Rendering goes through a
// go-template engine with a template callers can replace.
package receipt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/flow"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Entry is one answered field.
type Entry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Section groups the entries of one step.
type Section struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// Receipt is the data behind a rendered summary. Templates see it as
// "receipt" with the JSON key names.
type Receipt struct {
	Title        string    `json:"title"`
	FlowID       string    `json:"flow_id"`
	SubmissionID string    `json:"submission_id"`
	Status       string    `json:"status"`
	Sections     []Section `json:"sections"`
}

func (r Receipt) context() map[string]any {
	sections := make([]any, len(r.Sections))
	for i, sec := range r.Sections {
		entries := make([]any, len(sec.Entries))
		for j, e := range sec.Entries {
			entries[j] = map[string]any{"id": e.ID, "label": e.Label, "value": e.Value}
		}
		sections[i] = map[string]any{"id": sec.ID, "title": sec.Title, "entries": entries}
	}
	return map[string]any{
		"title":         r.Title,
		"flow_id":       r.FlowID,
		"submission_id": r.SubmissionID,
		"status":        r.Status,
		"sections":      sections,
	}
}

// FromMachine builds a receipt from the machine's reviewable answers.
func FromMachine(title string, m *flow.Machine) (Receipt, error) {
	review, answers, err := m.Review()
	if err != nil {
		return Receipt{}, err
	}
	st := m.State()
	r := Build(title, review, answers)
	r.FlowID = st.FlowID
	r.SubmissionID = st.Submission.SubmissionID.String()
	r.Status = string(st.Submission.Status)
	return r, nil
}

// Build lays out review steps. Steps without visible fields are skipped and
// unanswered fields are listed with an empty value.
func Build(title string, review []flow.ReviewStep, answers answer.Set) Receipt {
	out := Receipt{Title: title}
	for _, rs := range review {
		if len(rs.Fields) == 0 {
			continue
		}
		sec := Section{ID: rs.Step.ID, Title: rs.Step.Title}
		if sec.Title == "" {
			sec.Title = rs.Step.ID
		}
		for _, desc := range rs.Fields {
			entry := Entry{ID: desc.ID, Label: desc.DisplayLabel()}
			if v, ok := answers.Get(desc.ID); ok {
				entry.Value = Format(desc, v)
			}
			sec.Entries = append(sec.Entries, entry)
		}
		out.Sections = append(out.Sections, sec)
	}
	return out
}

// Format renders one answer for display.
func Format(desc field.Descriptor, v answer.Value) string {
	switch a := v.(type) {
	case answer.Text:
		return a.Value
	case answer.Number:
		return strconv.FormatFloat(a.Value, 'f', -1, 64)
	case answer.Boolean:
		if a.Value {
			return "yes"
		}
		return "no"
	case answer.Date:
		return a.Value.Format(desc.DateLayout())
	case answer.Choice:
		return desc.OptionLabel(a.Value)
	case answer.MultiChoice:
		labels := make([]string, len(a.Values))
		for i, value := range a.Values {
			labels[i] = desc.OptionLabel(value)
		}
		return strings.Join(labels, ", ")
	case answer.Rating:
		hi := float64(schema.DefaultRatingMax)
		if desc.Constraints.Max != nil {
			hi = *desc.Constraints.Max
		}
		return strconv.Itoa(a.Value) + "/" + strconv.FormatFloat(hi, 'f', -1, 64)
	case answer.File:
		return a.Name + " (" + strconv.FormatInt(a.Size(), 10) + " bytes)"
	case nil:
		return ""
	default:
		return fmt.Sprint(v.Raw())
	}
}
