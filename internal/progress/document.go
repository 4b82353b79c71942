// Package progress holds the per-room progress document stored in
// intimacy_progress.progress_data and the pure functions that evolve it.
package progress

import (
	"sort"
	"strings"
	"time"
)

const (
	SchemaVersion = 1

	MaxSummaryHistory = 2
	MaxKeywords       = 50
)

type Document struct {
	Version             int              `json:"version"`
	CorrectionsHistory  []Correction     `json:"correctionsHistory"`
	SummaryHistory      []SummaryEntry   `json:"summaryHistory"`
	KeywordIndex        KeywordIndex     `json:"keywordIndex"`
	LastContextSnapshot *ContextSnapshot `json:"lastContextSnapshot,omitempty"`
}

type Correction struct {
	At                time.Time `json:"timestamp"`
	DetectedLevel     int       `json:"detectedLevel"`
	CorrectedSentence string    `json:"correctedSentence,omitempty"`
	Corrections       string    `json:"corrections,omitempty"`
}

type SummaryEntry struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	Summary        string    `json:"summary"`
	Keywords       []string  `json:"keywords"`
	WindowStartSeq int64     `json:"windowStartSeq"`
	WindowEndSeq   int64     `json:"windowEndSeq"`
	TokenEstimate  int       `json:"tokenEstimate"`
}

type KeywordIndex struct {
	Items []Keyword `json:"items"`
}

type Keyword struct {
	Keyword   string    `json:"keyword"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ContextSnapshot struct {
	UsedAt         time.Time `json:"usedAt"`
	IntimacyLevel  int       `json:"intimacyLevel"`
	WindowStartSeq int64     `json:"windowStartSeq"`
	WindowEndSeq   int64     `json:"windowEndSeq"`
	SummaryID      string    `json:"summaryId"`
}

func New() Document {
	return Document{Version: SchemaVersion}
}

// LatestSummary returns the most recently appended summary, if any.
func (d Document) LatestSummary() (SummaryEntry, bool) {
	if len(d.SummaryHistory) == 0 {
		return SummaryEntry{}, false
	}
	return d.SummaryHistory[len(d.SummaryHistory)-1], true
}

// AppendCorrection appends to the correction log. The log is append-only.
func AppendCorrection(d Document, c Correction) Document {
	d = clone(d)
	d.CorrectionsHistory = append(d.CorrectionsHistory, c)
	return d
}

// MergeSummary appends s, folds its keywords into the index, refreshes the
// context snapshot and enforces both caps.
func MergeSummary(d Document, s SummaryEntry, intimacyLevel int, now time.Time) Document {
	d = clone(d)
	d.SummaryHistory = append(d.SummaryHistory, s)
	d = UpsertKeywords(d, s.Keywords, now)
	d.LastContextSnapshot = &ContextSnapshot{
		UsedAt:         now,
		IntimacyLevel:  intimacyLevel,
		WindowStartSeq: s.WindowStartSeq,
		WindowEndSeq:   s.WindowEndSeq,
		SummaryID:      s.ID,
	}
	return Trim(d)
}

// UpsertKeywords matches case-insensitively: a new keyword starts at score 1,
// a known one gains a point and has its updatedAt refreshed.
func UpsertKeywords(d Document, keywords []string, now time.Time) Document {
	d = clone(d)
	pos := make(map[string]int, len(d.KeywordIndex.Items))
	for i, it := range d.KeywordIndex.Items {
		pos[strings.ToLower(it.Keyword)] = i
	}
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if i, ok := pos[key]; ok {
			d.KeywordIndex.Items[i].Score++
			d.KeywordIndex.Items[i].UpdatedAt = now
			continue
		}
		pos[key] = len(d.KeywordIndex.Items)
		d.KeywordIndex.Items = append(d.KeywordIndex.Items, Keyword{Keyword: k, Score: 1, UpdatedAt: now})
	}
	return d
}

// Trim keeps the MaxSummaryHistory most recent summaries in their original
// order and the MaxKeywords highest-scored keywords.
func Trim(d Document) Document {
	d = clone(d)
	if n := len(d.SummaryHistory); n > MaxSummaryHistory {
		d.SummaryHistory = d.SummaryHistory[n-MaxSummaryHistory:]
	}
	if len(d.KeywordIndex.Items) > MaxKeywords {
		items := d.KeywordIndex.Items
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Score != items[j].Score {
				return items[i].Score > items[j].Score
			}
			if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
				return items[i].UpdatedAt.After(items[j].UpdatedAt)
			}
			return items[i].Keyword < items[j].Keyword
		})
		d.KeywordIndex.Items = items[:MaxKeywords]
	}
	if d.Version == 0 {
		d.Version = SchemaVersion
	}
	return d
}

// clone copies the slices so callers never alias the input document.
func clone(d Document) Document {
	out := d
	out.CorrectionsHistory = append([]Correction(nil), d.CorrectionsHistory...)
	out.SummaryHistory = append([]SummaryEntry(nil), d.SummaryHistory...)
	out.KeywordIndex.Items = append([]Keyword(nil), d.KeywordIndex.Items...)
	if d.LastContextSnapshot != nil {
		s := *d.LastContextSnapshot
		out.LastContextSnapshot = &s
	}
	return out
}
