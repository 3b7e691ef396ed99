package paths

import (
	"testing"
)

func targets(dests []Destination) []string {
	out := make([]string, len(dests))
	for i, d := range dests {
		out[i] = d.Target
	}
	return out
}

func TestResolveCollisions_NoCollisions(t *testing.T) {
	dests := []Destination{
		{Source: "/data/file1.zip", Target: "/dest/file1.zip", Tag: "data"},
		{Source: "/data/file2.zip", Target: "/dest/file2.zip", Tag: "data"},
	}

	result, count := ResolveCollisions(dests)

	if count != 0 {
		t.Errorf("expected 0 renamed, got %d", count)
	}
	if result[0].Target != "/dest/file1.zip" || result[1].Target != "/dest/file2.zip" {
		t.Errorf("expected targets unchanged, got %v", targets(result))
	}
}

func TestResolveCollisions_Tagged(t *testing.T) {
	dests := []Destination{
		{Source: "/run1/output.zip", Target: "/dest/output.zip", Tag: "run1"},
		{Source: "/run2/output.zip", Target: "/dest/output.zip", Tag: "run2"},
		{Source: "/run2/log.txt", Target: "/dest/log.txt", Tag: "run2"},
	}

	result, count := ResolveCollisions(dests)

	if count != 2 {
		t.Errorf("expected 2 renamed, got %d", count)
	}
	expected := []string{"/dest/output_run1.zip", "/dest/output_run2.zip", "/dest/log.txt"}
	for i, want := range expected {
		if result[i].Target != want {
			t.Errorf("expected %s, got %s", want, result[i].Target)
		}
	}
}

func TestResolveCollisions_Untagged(t *testing.T) {
	dests := []Destination{
		{Target: "/out/model.sim"},
		{Target: "/out/model.sim"},
		{Target: "/out/model.sim"},
	}

	result, count := ResolveCollisions(dests)

	if count != 3 {
		t.Errorf("expected 3 renamed, got %d", count)
	}
	expected := []string{"/out/model_1.sim", "/out/model_2.sim", "/out/model_3.sim"}
	for i, want := range expected {
		if result[i].Target != want {
			t.Errorf("expected %s, got %s", want, result[i].Target)
		}
	}
}

func TestResolveCollisions_EqualTags(t *testing.T) {
	dests := []Destination{
		{Source: "/p/a/x.dat", Target: "/dest/x.dat", Tag: "a"},
		{Source: "/q/a/x.dat", Target: "/dest/x.dat", Tag: "a"},
	}

	result, _ := ResolveCollisions(dests)

	if result[0].Target != "/dest/x_a_1.dat" || result[1].Target != "/dest/x_a_2.dat" {
		t.Errorf("expected numbered targets, got %v", targets(result))
	}
}

func TestResolveCollisions_NoExtension(t *testing.T) {
	dests := []Destination{
		{Target: "/dest/Makefile", Tag: "a"},
		{Target: "/dest/Makefile", Tag: "b"},
	}

	result, _ := ResolveCollisions(dests)

	if result[0].Target != "/dest/Makefile_a" || result[1].Target != "/dest/Makefile_b" {
		t.Errorf("unexpected targets %v", targets(result))
	}
}

func TestResolveCollisions_MultipleExtensions(t *testing.T) {
	dests := []Destination{
		{Target: "/dest/archive.tar.gz", Tag: "x"},
		{Target: "/dest/archive.tar.gz", Tag: "y"},
	}

	result, _ := ResolveCollisions(dests)

	// Only the last extension is kept after the tag
	if result[0].Target != "/dest/archive.tar_x.gz" {
		t.Errorf("expected /dest/archive.tar_x.gz, got %s", result[0].Target)
	}
}

func TestResolveCollisions_EmptyAndSingle(t *testing.T) {
	if result, count := ResolveCollisions(nil); count != 0 || len(result) != 0 {
		t.Errorf("expected empty result, got %v (%d)", result, count)
	}

	single := []Destination{{Target: "/dest/file.txt"}}
	if result, count := ResolveCollisions(single); count != 0 || result[0].Target != "/dest/file.txt" {
		t.Errorf("expected single file unchanged, got %v (%d)", targets(result), count)
	}
}
