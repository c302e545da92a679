package models

import (
	"errors"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	q := &QueryRequest{Query: "what is the refund policy", SimilarityThreshold: 0.7}
	if err := q.Validate(5, 50); err != nil {
		t.Fatalf("valid query rejected: %v", err)
	}
	if q.MaxResults != 5 {
		t.Errorf("default limit not applied, got %d", q.MaxResults)
	}
}

func TestQueryRequest_ValidateEmpty(t *testing.T) {
	q := &QueryRequest{}
	err := q.Validate(5, 50)
	if err == nil {
		t.Fatal("empty query should be rejected")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestQueryRequest_ValidateThreshold(t *testing.T) {
	for _, bad := range []float64{-1.5, 1.01, 2} {
		q := &QueryRequest{Query: "q", SimilarityThreshold: bad}
		if err := q.Validate(5, 50); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("threshold %g: expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestQueryRequest_ValidateCapsLimit(t *testing.T) {
	q := &QueryRequest{Query: "q", MaxResults: 500}
	if err := q.Validate(5, 50); err != nil {
		t.Fatal(err)
	}
	if q.MaxResults != 50 {
		t.Errorf("limit not capped, got %d", q.MaxResults)
	}
	q = &QueryRequest{Query: "q", MaxResults: -1}
	if err := q.Validate(5, 50); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative max_results: expected ErrInvalidInput, got %v", err)
	}
}
