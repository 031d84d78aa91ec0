package kbaudio

import (
	"strconv"
	"time"
)

// Question is one knowledge-bowl question's textual content. Hints are
// kept in presentation order; empty entries produce no segment.
type Question struct {
	ID          string
	Question    string
	Answer      string
	Hints       []string
	Explanation string
}

// ModuleContent is the document a prefetch pass is driven from.
type ModuleContent struct {
	ModuleID  string
	Questions []Question
}

// SegmentType names the kind of audio a single file holds.
type SegmentType string

const (
	SegmentQuestion    SegmentType = "question"
	SegmentAnswer      SegmentType = "answer"
	SegmentHint        SegmentType = "hint"
	SegmentExplanation SegmentType = "explanation"
)

type segmentSpec struct {
	QuestionID string
	Type       SegmentType
	HintIndex  int // only meaningful when Type == SegmentHint
	Text       string
}

func (s segmentSpec) filename() string {
	if s.Type == SegmentHint {
		return "hint_" + strconv.Itoa(s.HintIndex) + ".wav"
	}
	return string(s.Type) + ".wav"
}

// extractSegments produces one segment per non-empty field across every
// question in content.
func extractSegments(content ModuleContent) []segmentSpec {
	var segs []segmentSpec
	for _, q := range content.Questions {
		if q.Question != "" {
			segs = append(segs, segmentSpec{QuestionID: q.ID, Type: SegmentQuestion, Text: q.Question})
		}
		if q.Answer != "" {
			segs = append(segs, segmentSpec{QuestionID: q.ID, Type: SegmentAnswer, Text: q.Answer})
		}
		for i, h := range q.Hints {
			if h != "" {
				segs = append(segs, segmentSpec{QuestionID: q.ID, Type: SegmentHint, HintIndex: i, Text: h})
			}
		}
		if q.Explanation != "" {
			segs = append(segs, segmentSpec{QuestionID: q.ID, Type: SegmentExplanation, Text: q.Explanation})
		}
	}
	return segs
}

// QuestionManifestEntry aggregates the segments generated for one question.
type QuestionManifestEntry struct {
	QuestionID      string   `json:"questionId"`
	Segments        []string `json:"segments"`
	SizeBytes       int64    `json:"sizeBytes"`
	DurationSeconds float64  `json:"durationSeconds"`
}

// Manifest is the per-module manifest.json written after a (non-cancelled)
// prefetch pass completes.
type Manifest struct {
	ModuleID       string                  `json:"moduleId"`
	Questions      []QuestionManifestEntry `json:"questions"`
	TotalSizeBytes int64                   `json:"totalSizeBytes"`
	TotalDuration  float64                 `json:"totalDurationSeconds"`
	GeneratedAt    time.Time               `json:"generatedAt"`
}
