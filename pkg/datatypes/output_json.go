// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownOutputShape is returned when a serialized output matches
// neither prediction format.
var ErrUnknownOutputShape = errors.New("unrecognized output shape")

// DecodeOutput rebuilds a concrete Output from its JSON form.
//
// Both implementations serialize as arrays of objects, so the element
// keys decide the type: "entity" means NEROutput, "label" means
// SequenceClassificationOutput. An empty array decodes as an empty
// NEROutput, the only task where predicting nothing is a complete
// annotation. Null and absent decode as nil.
func DecodeOutput(raw json.RawMessage) (Output, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: not a prediction array: %v", ErrUnknownOutputShape, err)
	}
	if len(probe) == 0 {
		return NEROutput{}, nil
	}
	if _, ok := probe[0]["entity"]; ok {
		var out NEROutput
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if _, ok := probe[0]["label"]; ok {
		var out SequenceClassificationOutput
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: element has neither entity nor label", ErrUnknownOutputShape)
}

// UnmarshalJSON rebuilds the case, decoding the expected result into
// its concrete output type. Marshaling needs no counterpart; the
// concrete value inside the interface serializes itself.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID              string           `json:"id"`
		SampleID        string           `json:"sample_id"`
		Category        string           `json:"category"`
		TestType        string           `json:"test_type"`
		Original        string           `json:"original"`
		Perturbed       string           `json:"test_case"`
		Expected        json.RawMessage  `json:"expected_result"`
		Transformations []Transformation `json:"transformations"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	expected, err := DecodeOutput(aux.Expected)
	if err != nil {
		return fmt.Errorf("test case %q: %w", aux.ID, err)
	}
	*tc = TestCase{
		ID:              aux.ID,
		SampleID:        aux.SampleID,
		Category:        aux.Category,
		TestType:        aux.TestType,
		Original:        aux.Original,
		Perturbed:       aux.Perturbed,
		Expected:        expected,
		Transformations: aux.Transformations,
	}
	return nil
}

// UnmarshalJSON rebuilds the record, decoding both observed outputs
// into their concrete types.
func (r *EvaluationRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		Case            TestCase        `json:"case"`
		ActualOriginal  json.RawMessage `json:"actual_original"`
		ActualPerturbed json.RawMessage `json:"actual_result"`
		Pass            bool            `json:"pass"`
		FailureReason   string          `json:"failure_reason"`
		MetricValue     *float64        `json:"metric_value"`
		MetricThreshold *float64        `json:"metric_threshold"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	original, err := DecodeOutput(aux.ActualOriginal)
	if err != nil {
		return fmt.Errorf("record for case %q: %w", aux.Case.ID, err)
	}
	perturbed, err := DecodeOutput(aux.ActualPerturbed)
	if err != nil {
		return fmt.Errorf("record for case %q: %w", aux.Case.ID, err)
	}
	*r = EvaluationRecord{
		Case:            aux.Case,
		ActualOriginal:  original,
		ActualPerturbed: perturbed,
		Pass:            aux.Pass,
		FailureReason:   aux.FailureReason,
		MetricValue:     aux.MetricValue,
		MetricThreshold: aux.MetricThreshold,
	}
	return nil
}
