package fileid

import (
	"strings"
	"testing"
)

func TestFileDocID(t *testing.T) {
	a := FileDocID("/drop/notes.md")
	b := FileDocID("/drop/notes.md")
	if a != b {
		t.Error("same path should yield the same id")
	}
	if !strings.HasPrefix(a, "file:") {
		t.Errorf("expected file: prefix, got %s", a)
	}
	if FileDocID("/drop/other.md") == a {
		t.Error("different paths should yield different ids")
	}
}

func TestFileDocID_cleansPath(t *testing.T) {
	if FileDocID("/drop/./notes.md") != FileDocID("/drop/notes.md") {
		t.Error("equivalent paths should yield the same id")
	}
}
