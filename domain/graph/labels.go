package graph

import (
	"encoding/json"
	"fmt"
)

// LabelList is a label sequence that unmarshals from either a single
// string or an array of strings, since clients send both forms.
type LabelList []string

// UnmarshalJSON accepts "label", ["a", "b"], or null.
func (l *LabelList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}

	switch data[0] {
	case '"':
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = LabelList{single}
		return nil
	case '[':
		var many []string
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*l = LabelList(many)
		return nil
	default:
		return fmt.Errorf("labels must be a string or an array of strings")
	}
}

// NormalizeLabels resolves the label/labels request synonyms into one
// sequence. The plural form wins when both are present; absence yields
// an empty sequence, never nil.
func NormalizeLabels(label, labels LabelList) []string {
	chosen := label
	if labels != nil {
		chosen = labels
	}
	if chosen == nil {
		return []string{}
	}
	return dedupeLabels(chosen)
}

// MergeLabels appends incoming labels onto existing ones, suppressing
// duplicates and preserving first-seen order.
func MergeLabels(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, l := range existing {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		merged = append(merged, l)
	}
	for _, l := range incoming {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		merged = append(merged, l)
	}
	return merged
}

func dedupeLabels(labels []string) []string {
	return MergeLabels(nil, labels)
}
