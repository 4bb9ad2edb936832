package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

type keyStats struct {
	uses        int
	confidence  float64
	corrections int
}

// Summarize aggregates records with timestamp >= now - windowDays. Means over
// empty sets are 0. Records that fail to decode, such as a trailing line
// still being written or an oversized line, are skipped and counted.
func (t *Tracker) Summarize(windowDays int) (Summary, error) {
	cutoff := t.clock().AddDate(0, 0, -windowDays)
	summary := Summary{WindowDays: windowDays, ProblematicTemplates: []TemplateStats{}}
	skipped := 0

	var procSum, confSum float64
	oversize, err := t.transcriptions.scan(func(line []byte) {
		var m TranscriptionMetric
		if err := json.Unmarshal(line, &m); err != nil {
			skipped++
			return
		}
		if m.Timestamp.Before(cutoff) {
			return
		}
		summary.Transcriptions.Count++
		procSum += m.ProcessingTime
		confSum += m.ConfidenceAvg
		summary.Transcriptions.TotalAudioDuration += m.AudioDuration
	})
	if err != nil {
		return Summary{}, fmt.Errorf("read transcriptions: %w", err)
	}
	skipped += oversize
	summary.Transcriptions.AvgProcessingTime = mean(procSum, summary.Transcriptions.Count)
	summary.Transcriptions.AvgConfidence = mean(confSum, summary.Transcriptions.Count)

	var order []string
	byKey := map[string]*keyStats{}
	noteKeys := map[string]string{}
	procSum, confSum = 0, 0
	oversize, err = t.templates.scan(func(line []byte) {
		var m TemplateMetric
		if err := json.Unmarshal(line, &m); err != nil {
			skipped++
			return
		}
		if m.Timestamp.Before(cutoff) {
			return
		}
		summary.Templates.Count++
		procSum += m.ProcessingTime
		confSum += m.AvgConfidence
		if m.TemplateSource == SourceDynamic {
			summary.Templates.DynamicCount++
		}
		if m.FallbackUsed {
			summary.Templates.FallbackCount++
		}
		ks, ok := byKey[m.TemplateKey]
		if !ok {
			ks = &keyStats{}
			byKey[m.TemplateKey] = ks
			order = append(order, m.TemplateKey)
		}
		ks.uses++
		ks.confidence += m.AvgConfidence
		ks.corrections += m.UserCorrections
		noteKeys[m.ID] = m.TemplateKey
	})
	if err != nil {
		return Summary{}, fmt.Errorf("read template usage: %w", err)
	}
	skipped += oversize
	summary.Templates.AvgProcessingTime = mean(procSum, summary.Templates.Count)
	summary.Templates.AvgConfidence = mean(confSum, summary.Templates.Count)

	oversize, err = t.corrections.scan(func(line []byte) {
		var c CorrectionEvent
		if err := json.Unmarshal(line, &c); err != nil {
			skipped++
			return
		}
		if c.Timestamp.Before(cutoff) {
			return
		}
		summary.Corrections.Count++
		summary.Corrections.Total += c.Corrections
		key := c.TemplateKey
		if key == "" {
			key = noteKeys[c.NoteID]
		}
		if ks, ok := byKey[key]; ok {
			ks.corrections += c.Corrections
		}
	})
	if err != nil {
		return Summary{}, fmt.Errorf("read corrections: %w", err)
	}
	skipped += oversize

	for _, key := range order {
		ks := byKey[key]
		stats := TemplateStats{
			TemplateKey:    key,
			Uses:           ks.uses,
			AvgConfidence:  mean(ks.confidence, ks.uses),
			AvgCorrections: mean(float64(ks.corrections), ks.uses),
		}
		if stats.AvgConfidence < t.cfg.ProblemConfidenceBelow || stats.AvgCorrections > t.cfg.ProblemCorrectionsOver {
			summary.ProblematicTemplates = append(summary.ProblematicTemplates, stats)
		}
	}

	summary.SkippedRecords = skipped
	if skipped > 0 {
		t.logger.Debug("skipped malformed metric records", slog.Int("count", skipped))
	}
	return summary, nil
}

// FindTemplateUsage returns the template record whose id equals noteID.
func (t *Tracker) FindTemplateUsage(noteID string) (TemplateMetric, bool, error) {
	var found TemplateMetric
	ok := false
	_, err := t.templates.scan(func(line []byte) {
		if ok {
			return
		}
		var m TemplateMetric
		if json.Unmarshal(line, &m) == nil && m.ID == noteID {
			found, ok = m, true
		}
	})
	if err != nil {
		return TemplateMetric{}, false, fmt.Errorf("read template usage: %w", err)
	}
	return found, ok, nil
}

// Duplicates lists ids that appear more than once in the given log, sorted.
// A non-empty result points at a double submission.
func (t *Tracker) Duplicates(kind Kind) ([]string, error) {
	counts := map[string]int{}
	_, err := t.logFor(kind).scan(func(line []byte) {
		var rec struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(line, &rec) == nil && rec.ID != "" {
			counts[rec.ID]++
		}
	})
	if err != nil {
		return nil, err
	}
	var dups []string
	for id, n := range counts {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	return dups, nil
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
