package iterutil_test

import (
	"iter"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/karupanerura/txcache/internal/iterutil"
)

func TestDifference(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name     string
		input    []string
		excluded [][]string
		want     []string
	}{
		{
			name:  "empty",
			input: nil,
			want:  nil,
		},
		{
			name:  "no exclusions",
			input: []string{"a", "b", "a"},
			want:  []string{"a", "b"},
		},
		{
			name:     "new owners",
			input:    []string{"n1", "n3"},
			excluded: [][]string{{"n1", "n2"}},
			want:     []string{"n3"},
		},
		{
			name:     "many exclusions",
			input:    []string{"a", "b", "c", "d"},
			excluded: [][]string{{"a"}, {"c"}, {}},
			want:     []string{"b", "d"},
		},
		{
			name:     "everything excluded",
			input:    []string{"a"},
			excluded: [][]string{{"a", "b"}},
			want:     nil,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			excluded := make([]iter.Seq[string], len(tt.excluded))
			for i, ex := range tt.excluded {
				excluded[i] = slices.Values(ex)
			}
			got := slices.Collect(iterutil.Difference(slices.Values(tt.input), excluded...))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Difference() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUniq(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		input []int
		want  []int
	}{
		{name: "empty", input: nil, want: nil},
		{name: "unique", input: []int{3, 1, 2}, want: []int{3, 1, 2}},
		{name: "duplicates", input: []int{1, 1, 2, 1, 3, 2}, want: []int{1, 2, 3}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := slices.Collect(iterutil.Uniq(slices.Values(tt.input)))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Uniq() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("early stop", func(t *testing.T) {
		t.Parallel()

		var got []int
		for v := range iterutil.Uniq(slices.Values([]int{1, 1, 2, 3})) {
			got = append(got, v)
			if v == 2 {
				break
			}
		}
		if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestFilterAndMap(t *testing.T) {
	t.Parallel()

	seq := iterutil.Map(
		iterutil.Filter(slices.Values([]string{"test1", "other", "test2"}), func(s string) bool {
			return strings.HasPrefix(s, "test")
		}),
		strings.ToUpper,
	)
	if diff := cmp.Diff([]string{"TEST1", "TEST2"}, slices.Collect(seq)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupBy(t *testing.T) {
	t.Parallel()

	owners := map[string][]string{
		"k1": {"n1", "n2"},
		"k2": {"n2", "n3"},
		"k3": {"n1"},
	}
	order, groups := iterutil.GroupBy(slices.Values([]string{"k1", "k2", "k3"}), func(k string) []string {
		return owners[k]
	})
	if diff := cmp.Diff([]string{"n1", "n2", "n3"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	want := map[string][]string{
		"n1": {"k1", "k3"},
		"n2": {"k1", "k2"},
		"n3": {"k2"},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}
