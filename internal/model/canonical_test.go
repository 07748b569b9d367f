package model

import (
	"bytes"
	"encoding/json"
	"testing"
)

func mustCanonical(t *testing.T, s *TransformationSpec) []byte {
	t.Helper()
	b, err := s.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	return b
}

func TestCanonicalJSONFieldOrderDoesNotMatter(t *testing.T) {
	// The same spec arriving with different key orders must canonicalize
	// to identical bytes.
	a := `{"resize":{"width":100,"height":200,"fit":"cover"},"format":"png","rotate":90}`
	b := `{"rotate":90,"format":"png","resize":{"fit":"cover","height":200,"width":100}}`

	var specA, specB TransformationSpec
	if err := json.Unmarshal([]byte(a), &specA); err != nil {
		t.Fatalf("unmarshal a: %v", err)
	}
	if err := json.Unmarshal([]byte(b), &specB); err != nil {
		t.Fatalf("unmarshal b: %v", err)
	}

	ca := mustCanonical(t, &specA)
	cb := mustCanonical(t, &specB)
	if !bytes.Equal(ca, cb) {
		t.Errorf("canonical forms differ:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalJSONSortsNestedKeys(t *testing.T) {
	spec := &TransformationSpec{
		Resize: &ResizeSpec{Width: 10, Height: 20, Fit: FitContain},
		Filters: &FilterSpec{
			Grayscale: true,
			Blur:      2,
		},
	}
	got := string(mustCanonical(t, spec))
	want := `{"filters":{"blur":2,"grayscale":true},"resize":{"fit":"contain","height":20,"width":10}}`
	if got != want {
		t.Errorf("canonical form = %s, want %s", got, want)
	}
}

func TestCanonicalJSONOmitsAbsentFields(t *testing.T) {
	empty := mustCanonical(t, &TransformationSpec{})
	if string(empty) != "{}" {
		t.Errorf("empty spec canonical form = %s, want {}", empty)
	}

	// An explicit zero inside a sub-object is the same as leaving the
	// field out entirely.
	withZero := &TransformationSpec{Crop: &CropSpec{X: 0, Y: 0, Width: 5, Height: 5}}
	without := &TransformationSpec{Crop: &CropSpec{Width: 5, Height: 5}}
	if !bytes.Equal(mustCanonical(t, withZero), mustCanonical(t, without)) {
		t.Error("zero-valued crop origin changed the canonical form")
	}
}

func TestCanonicalJSONIsStableAcrossRuns(t *testing.T) {
	spec := &TransformationSpec{
		Resize:    &ResizeSpec{Width: 640, Height: 480},
		Watermark: &WatermarkSpec{Text: "sample", Position: PositionBottomRight},
		Quality:   85,
	}
	first := mustCanonical(t, spec)
	for i := 0; i < 20; i++ {
		if got := mustCanonical(t, spec); !bytes.Equal(first, got) {
			t.Fatalf("run %d produced different bytes: %s vs %s", i, first, got)
		}
	}
}
