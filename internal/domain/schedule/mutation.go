package schedule

import (
	"encoding/json"
	"fmt"

	"github.com/medsafe/go-dse/internal/domain/safety"
)

// Mutation is one atomic schedule change. Apply is pure: it returns a new
// schedule and never touches the input, so the same mutation can be scored
// hypothetically before the store materializes it.
type Mutation interface {
	Kind() safety.SuggestionKind
	Target() string
	Apply(s Schedule) (Schedule, error)
	Describe() string
}

// TimeShift moves one dose occurrence of a medication to a new instant.
type TimeShift struct {
	MedicationID string      `json:"medication_id"`
	From         MinuteOfDay `json:"from"`
	To           MinuteOfDay `json:"to"`
}

func (t TimeShift) Kind() safety.SuggestionKind { return safety.SuggestionTimeShift }
func (t TimeShift) Target() string              { return t.MedicationID }

func (t TimeShift) Describe() string {
	return fmt.Sprintf("shift %s dose from %s to %s", t.MedicationID, t.From, t.To)
}

func (t TimeShift) Apply(s Schedule) (Schedule, error) {
	if !t.To.Valid() {
		return Schedule{}, fmt.Errorf("time shift: target instant %d out of range", t.To)
	}
	out := s.Clone()
	for i, m := range out.Medications {
		if m.ID != t.MedicationID {
			continue
		}
		for j, at := range m.Times {
			if at == t.From {
				out.Medications[i].Times[j] = t.To
				return out, nil
			}
		}
		return Schedule{}, fmt.Errorf("time shift: %s has no dose at %s", t.MedicationID, t.From)
	}
	return Schedule{}, fmt.Errorf("time shift: medication %s not on schedule", t.MedicationID)
}

// Swap replaces a medication with a substitute, keeping the dose schedule.
type Swap struct {
	MedicationID    string `json:"medication_id"`
	ReplacementID   string `json:"replacement_id"`
	ReplacementName string `json:"replacement_name"`
}

func (w Swap) Kind() safety.SuggestionKind { return safety.SuggestionSwapMedication }
func (w Swap) Target() string              { return w.MedicationID }

func (w Swap) Describe() string {
	return fmt.Sprintf("swap %s for %s", w.MedicationID, w.ReplacementName)
}

func (w Swap) Apply(s Schedule) (Schedule, error) {
	if w.ReplacementName == "" {
		return Schedule{}, fmt.Errorf("swap: replacement name is required")
	}
	out := s.Clone()
	for i, m := range out.Medications {
		if m.ID != w.MedicationID {
			continue
		}
		if w.ReplacementID != "" {
			out.Medications[i].ID = w.ReplacementID
		}
		out.Medications[i].Name = w.ReplacementName
		return out, nil
	}
	return Schedule{}, fmt.Errorf("swap: medication %s not on schedule", w.MedicationID)
}

// DropDose removes a dose occurrence, or suspends the medication entirely
// when All is set (the last resort for severe interactions with no
// substitute). Suspension flips status to inactive and keeps dose times so a
// restore is lossless.
type DropDose struct {
	MedicationID string      `json:"medication_id"`
	At           MinuteOfDay `json:"at"`
	All          bool        `json:"all"`
}

func (d DropDose) Kind() safety.SuggestionKind { return safety.SuggestionDropDose }
func (d DropDose) Target() string              { return d.MedicationID }

func (d DropDose) Describe() string {
	if d.All {
		return fmt.Sprintf("suspend %s pending clinician review", d.MedicationID)
	}
	return fmt.Sprintf("drop %s dose at %s", d.MedicationID, d.At)
}

func (d DropDose) Apply(s Schedule) (Schedule, error) {
	out := s.Clone()
	for i, m := range out.Medications {
		if m.ID != d.MedicationID {
			continue
		}
		if d.All {
			out.Medications[i].Status = StatusInactive
			return out, nil
		}
		for j, at := range m.Times {
			if at == d.At {
				out.Medications[i].Times = append(m.Times[:j:j], m.Times[j+1:]...)
				if len(out.Medications[i].Times) == 0 {
					out.Medications[i].Status = StatusInactive
				}
				return out, nil
			}
		}
		return Schedule{}, fmt.Errorf("drop dose: %s has no dose at %s", d.MedicationID, d.At)
	}
	return Schedule{}, fmt.Errorf("drop dose: medication %s not on schedule", d.MedicationID)
}

// MutationEnvelope is the persisted/wire form of a mutation.
type MutationEnvelope struct {
	Kind    safety.SuggestionKind `json:"kind"`
	Payload json.RawMessage       `json:"payload"`
}

// EncodeMutation wraps a mutation for storage or transport.
func EncodeMutation(m Mutation) (MutationEnvelope, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return MutationEnvelope{}, fmt.Errorf("encode mutation: %w", err)
	}
	return MutationEnvelope{Kind: m.Kind(), Payload: payload}, nil
}

// DecodeMutation restores a mutation from its envelope.
func DecodeMutation(env MutationEnvelope) (Mutation, error) {
	switch env.Kind {
	case safety.SuggestionTimeShift:
		var m TimeShift
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode time shift: %w", err)
		}
		return m, nil
	case safety.SuggestionSwapMedication:
		var m Swap
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode swap: %w", err)
		}
		return m, nil
	case safety.SuggestionDropDose:
		var m DropDose
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode drop dose: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown mutation kind %q", env.Kind)
}
