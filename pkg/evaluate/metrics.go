// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"context"
	"log/slog"
	"sort"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/tern/pkg/datatypes"
)

// backgroundLabel marks tokens outside every gold or predicted
// entity. It participates in alignment but never in the averaged
// metrics.
const backgroundLabel = "O"

// evaluateAccuracy scores the accuracy cases at the given indices and
// writes their records in place. All cases share one pass of model
// predictions over the evaluator's samples.
func (e *Evaluator) evaluateAccuracy(ctx context.Context, cases []datatypes.TestCase, idx []int, resolved *datatypes.ResolvedConfig, records []datatypes.EvaluationRecord) {
	yTrue, yPred, failed := e.accuracyInputs(ctx)

	if len(e.Samples) > 0 && failed == len(e.Samples) {
		for _, i := range idx {
			rec := datatypes.EvaluationRecord{
				Case:          cases[i],
				FailureReason: "model calls failed for every sample",
			}
			records[i] = rec
			e.observe(ctx, rec, 0)
		}
		return
	}
	if len(e.Samples) == 0 {
		slog.Warn("No samples available for accuracy evaluation")
	}

	conf := newConfusion(yTrue, yPred)
	for _, i := range idx {
		tc := cases[i]
		value := conf.metric(tc.TestType, tc.Perturbed)

		var threshold float64
		if cfg, ok := resolved.Get(tc.TestType); ok && cfg.MinScore != nil {
			threshold = cfg.MinScore.For(tc.Perturbed)
		}

		rec := datatypes.EvaluationRecord{
			Case:            tc,
			Pass:            value >= threshold,
			MetricValue:     &value,
			MetricThreshold: &threshold,
		}
		records[i] = rec
		e.observe(ctx, rec, 0)
	}
}

// accuracyInputs predicts every sample's original text and aligns the
// outputs with the gold annotations into flat label sequences.
// Samples whose model call failed are excluded and counted.
func (e *Evaluator) accuracyInputs(ctx context.Context) (yTrue, yPred []string, failed int) {
	if len(e.Samples) == 0 {
		return nil, nil, 0
	}

	preds := make([]datatypes.Output, len(e.Samples))
	errs := make([]error, len(e.Samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, s := range e.Samples {
		g.Go(func() error {
			preds[i], _, errs[i] = e.predict(gctx, s.Text)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range e.Samples {
		if errs[i] != nil {
			failed++
			slog.Warn("Excluding sample from accuracy metrics",
				"sample_id", s.ID, "error", errs[i])
			continue
		}
		t, p := alignLabels(s, preds[i])
		yTrue = append(yTrue, t...)
		yPred = append(yPred, p...)
	}
	return yTrue, yPred, failed
}

// alignLabels pairs gold and predicted labels position by position.
// Classification samples contribute one pair (gold top label vs
// predicted top label); NER samples contribute one pair per token.
func alignLabels(s datatypes.Sample, pred datatypes.Output) (yTrue, yPred []string) {
	if s.Task == datatypes.TaskTextClassification {
		gold, ok := s.Labels.Top()
		if !ok {
			return nil, nil
		}
		var got string
		if out, ok := pred.(datatypes.SequenceClassificationOutput); ok {
			if top, ok := out.Top(); ok {
				got = top.Label
			}
		}
		return []string{gold.Label}, []string{got}
	}

	var out datatypes.NEROutput
	if o, ok := pred.(datatypes.NEROutput); ok {
		out = o
	}
	gold := spanIndex(s.Entities)
	got := spanIndex(out)
	for _, tok := range whitespaceTokens(s.Text) {
		key := [2]int{tok.Start, tok.End}
		yTrue = append(yTrue, labelAt(gold, key))
		yPred = append(yPred, labelAt(got, key))
	}
	return yTrue, yPred
}

// spanIndex keys entity labels by exact (start, end) offsets.
func spanIndex(preds datatypes.NEROutput) map[[2]int]string {
	m := make(map[[2]int]string, len(preds))
	for _, p := range preds {
		m[[2]int{p.Start, p.End}] = p.Entity
	}
	return m
}

func labelAt(index map[[2]int]string, key [2]int) string {
	if label, ok := index[key]; ok {
		return label
	}
	return backgroundLabel
}

// whitespaceTokens splits text into whitespace separated fields with
// byte offsets. Annotated corpora join tokens with single spaces, so
// these offsets line up exactly with gold token spans, punctuation
// tokens included.
func whitespaceTokens(text string) []datatypes.Span {
	var spans []datatypes.Span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, datatypes.Span{Start: start, End: i, Word: text[start:i]})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, datatypes.Span{Start: start, End: len(text), Word: text[start:]})
	}
	return spans
}

// confusion tallies per label agreement between aligned gold and
// predicted sequences.
type confusion struct {
	tp      map[string]int
	fp      map[string]int
	fn      map[string]int
	support map[string]int

	// labels holds the distinct gold labels except the background,
	// sorted. Per label and averaged metrics range over these.
	labels []string
}

func newConfusion(yTrue, yPred []string) *confusion {
	c := &confusion{
		tp:      make(map[string]int),
		fp:      make(map[string]int),
		fn:      make(map[string]int),
		support: make(map[string]int),
	}
	seen := make(map[string]struct{})
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		c.support[t]++
		if t != backgroundLabel {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				c.labels = append(c.labels, t)
			}
		}
		if t == p {
			c.tp[t]++
		} else {
			c.fn[t]++
			c.fp[p]++
		}
	}
	sort.Strings(c.labels)
	return c
}

// metric dispatches a test type to its score. Per label test types
// read the label from target; aggregate types ignore it.
func (c *confusion) metric(testType, target string) float64 {
	switch testType {
	case "min_precision_score":
		return c.precision(target)
	case "min_recall_score":
		return c.recall(target)
	case "min_micro_f1_score":
		return c.microF1()
	case "min_macro_f1_score":
		return c.macroF1()
	case "min_weighted_f1_score":
		return c.weightedF1()
	default:
		return c.f1(target)
	}
}

func (c *confusion) precision(label string) float64 {
	return safeDiv(c.tp[label], c.tp[label]+c.fp[label])
}

func (c *confusion) recall(label string) float64 {
	return safeDiv(c.tp[label], c.tp[label]+c.fn[label])
}

func (c *confusion) f1(label string) float64 {
	return harmonic(c.precision(label), c.recall(label))
}

// microF1 pools counts over every non background label seen on
// either side, so spurious predictions of unseen labels still cost
// precision.
func (c *confusion) microF1() float64 {
	var tp, fp, fn int
	for _, l := range c.unionLabels() {
		tp += c.tp[l]
		fp += c.fp[l]
		fn += c.fn[l]
	}
	return harmonic(safeDiv(tp, tp+fp), safeDiv(tp, tp+fn))
}

func (c *confusion) macroF1() float64 {
	if len(c.labels) == 0 {
		return 0
	}
	var sum float64
	for _, l := range c.labels {
		sum += c.f1(l)
	}
	return sum / float64(len(c.labels))
}

func (c *confusion) weightedF1() float64 {
	var total int
	var sum float64
	for _, l := range c.labels {
		sum += float64(c.support[l]) * c.f1(l)
		total += c.support[l]
	}
	if total == 0 {
		return 0
	}
	return sum / float64(total)
}

// unionLabels returns every non background label occurring in the
// gold or predicted sequences.
func (c *confusion) unionLabels() []string {
	seen := make(map[string]struct{}, len(c.labels))
	out := make([]string, 0, len(c.labels))
	for _, l := range c.labels {
		seen[l] = struct{}{}
		out = append(out, l)
	}
	for l := range c.fp {
		if l == backgroundLabel {
			continue
		}
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

func safeDiv(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// harmonic is the F1 combination of precision and recall, zero when
// both are zero.
func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
