package catalog

import (
	"reflect"
	"testing"
)

func TestNormalizeTopic(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The Laws of Motion", "laws motion"},
		{"  Photosynthesis   Basics ", "photosynthesis basics"},
		{"machine learning", "machine learning"},
		{"the of a", "the of a"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeTopic(tc.in); got != tc.want {
			t.Fatalf("NormalizeTopic(%q) want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestNormalizeConceptAbbreviations(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"CO2", "carbon dioxide"},
		{"ML", "machine learning"},
		{"Photosynthesis", "photosynthesis"},
		{"  RAG ", "retrieval augmented generation"},
	}
	for _, tc := range cases {
		if got := NormalizeConcept(tc.in); got != tc.want {
			t.Fatalf("NormalizeConcept(%q) want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestCleanTopicResponse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The main topic is: Biology", "Biology"},
		{"Topic: Computer Science", "Computer Science"},
		{`This document is about "Photosynthesis".`, "Photosynthesis"},
		{"Photosynthesis Concepts: -", "Photosynthesis"},
		{"quantum field theory and beyond", "Quantum Field Theory"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanTopicResponse(tc.in); got != tc.want {
			t.Fatalf("CleanTopicResponse(%q) want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestTopicsMatch(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		topics []string
		want   bool
	}{
		{"exact", "Newton's Laws", []string{"newton's laws"}, true},
		{"substring", "motion", []string{"laws of motion"}, true},
		{"jaccard", "cell biology basics", []string{"cell biology"}, true},
		{"disjoint", "french cooking", []string{"quantum mechanics"}, false},
		{"empty catalog", "anything", nil, false},
		{"empty query", "", []string{"physics"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TopicsMatch(tc.query, tc.topics, 0.6); got != tc.want {
				t.Fatalf("TopicsMatch want=%v got=%v", tc.want, got)
			}
		})
	}
}

func TestExtractConceptsFromText(t *testing.T) {
	got := ExtractConceptsFromText("What is the role of chlorophyll in photosynthesis?", 5)
	want := []string{"role", "chlorophyll", "photosynthesis"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("concepts want=%v got=%v", want, got)
	}
}

func TestExtractConceptsFromTextCapped(t *testing.T) {
	got := ExtractConceptsFromText("alpha beta gamma delta epsilon zeta", 3)
	if len(got) != 3 {
		t.Fatalf("len want=3 got=%d (%v)", len(got), got)
	}
}
