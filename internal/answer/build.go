package answer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FlexString decodes from either a JSON string or a JSON number. The game
// server emits numeric pull request numbers and check-run ids.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// RawCheckRun is one check-run record as sent by the server.
type RawCheckRun struct {
	ID         FlexString `json:"id"`
	SHA        string     `json:"sha"`
	Time       time.Time  `json:"time"`
	Conclusion string     `json:"conclusion,omitempty"`
}

// RawAnswer is one submission record as sent by the server.
type RawAnswer struct {
	BaseRepoFullName string        `json:"baseRepoFullName"`
	HeadRepoFullName string        `json:"headRepoFullName"`
	Number           FlexString    `json:"number"`
	Branch           string        `json:"branch"`
	LastUpdatedTime  time.Time     `json:"lastUpdatedTime"`
	Open             bool          `json:"open"`
	Accomplished     bool          `json:"accomplished"`
	CheckRuns        []RawCheckRun `json:"checkRuns"`
}

// DecodeSnapshot parses a JSON array of submission records.
func DecodeSnapshot(data []byte) ([]RawAnswer, error) {
	var raw []RawAnswer
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding answer snapshot: %w", err)
	}
	return raw, nil
}

// DecodeAnswer parses a single submission record.
func DecodeAnswer(data []byte) (RawAnswer, error) {
	var raw RawAnswer
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawAnswer{}, fmt.Errorf("decoding answer: %w", err)
	}
	return raw, nil
}

// Labeler produces display titles.
type Labeler interface {
	Text(key string, args ...string) string
	FormatTime(t time.Time) string
}

// Builder turns raw records into Answers.
type Builder struct {
	labels Labeler
}

func NewBuilder(labels Labeler) *Builder {
	return &Builder{labels: labels}
}

// Build converts a whole snapshot, preserving order.
func (b *Builder) Build(raw []RawAnswer) []*Answer {
	answers := make([]*Answer, 0, len(raw))
	for i := range raw {
		answers = append(answers, b.BuildAnswer(raw[i]))
	}
	return answers
}

// BuildAnswer drops check runs whose sha was already seen, keeping the first
// occurrence, and links every commit to the sha of the record after it.
func (b *Builder) BuildAnswer(raw RawAnswer) *Answer {
	seen := make(map[string]struct{}, len(raw.CheckRuns))
	runs := make([]RawCheckRun, 0, len(raw.CheckRuns))
	for _, run := range raw.CheckRuns {
		if _, dup := seen[run.SHA]; dup {
			continue
		}
		seen[run.SHA] = struct{}{}
		runs = append(runs, run)
	}

	commits := make([]*Commit, len(runs))
	for i, run := range runs {
		var parent string
		if i+1 < len(runs) {
			parent = runs[i+1].SHA
		}
		commits[i] = b.commit(run, parent)
	}

	return &Answer{
		Title:            b.text("MyAnswerAt", b.formatTime(raw.LastUpdatedTime)),
		BaseRepoFullName: raw.BaseRepoFullName,
		HeadRepoFullName: raw.HeadRepoFullName,
		Number:           string(raw.Number),
		Branch:           raw.Branch,
		Time:             raw.LastUpdatedTime,
		Open:             raw.Open,
		Accomplished:     raw.Accomplished,
		Commits:          commits,
	}
}

func (b *Builder) commit(run RawCheckRun, parent string) *Commit {
	c := &Commit{
		SHA:        run.SHA,
		CheckRunID: string(run.ID),
		Time:       run.Time,
		Conclusion: Conclusion(run.Conclusion),
		ParentSHA:  parent,
	}
	c.Title = b.text("CommitAt", c.ShortSHA(), b.formatTime(run.Time))
	return c
}

func (b *Builder) text(key string, args ...string) string {
	if b.labels == nil {
		return key
	}
	return b.labels.Text(key, args...)
}

func (b *Builder) formatTime(t time.Time) string {
	if b.labels == nil {
		return t.Format(time.RFC3339)
	}
	return b.labels.FormatTime(t)
}
