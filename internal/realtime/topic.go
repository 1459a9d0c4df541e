package realtime

import (
	"fmt"
	"strings"
)

// Kind identifies which document set a topic follows.
type Kind string

const (
	KindStudents     Kind = "students"
	KindStudent      Kind = "student"
	KindHistory      Kind = "history"
	KindMeasurements Kind = "measurements"
)

// Topic names a live query: the full student list or one student's document or children.
type Topic struct {
	Kind      Kind
	StudentID string
}

// StudentsTopic follows the whole student list.
func StudentsTopic() Topic { return Topic{Kind: KindStudents} }

// StudentTopic follows one student record.
func StudentTopic(id string) Topic { return Topic{Kind: KindStudent, StudentID: id} }

// HistoryTopic follows one student's history entries.
func HistoryTopic(id string) Topic { return Topic{Kind: KindHistory, StudentID: id} }

// MeasurementsTopic follows one student's measurements.
func MeasurementsTopic(id string) Topic { return Topic{Kind: KindMeasurements, StudentID: id} }

// String renders the wire form, e.g. "students" or "history:<id>".
func (t Topic) String() string {
	if t.Kind == KindStudents {
		return string(KindStudents)
	}
	return string(t.Kind) + ":" + t.StudentID
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(raw string) (Topic, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(KindStudents) {
		return StudentsTopic(), nil
	}
	kind, id, ok := strings.Cut(raw, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return Topic{}, fmt.Errorf("invalid topic %q", raw)
	}
	switch Kind(kind) {
	case KindStudent, KindHistory, KindMeasurements:
		return Topic{Kind: Kind(kind), StudentID: id}, nil
	default:
		return Topic{}, fmt.Errorf("unknown topic kind %q", kind)
	}
}

// StudentTopics lists every topic touched by a write to one student.
func StudentTopics(id string) []Topic {
	return []Topic{StudentsTopic(), StudentTopic(id), HistoryTopic(id), MeasurementsTopic(id)}
}
