package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterFiles(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []Cluster
	}{
		{
			name:  "empty",
			input: nil,
			want:  nil,
		},
		{
			name:  "siblings share a cluster",
			input: []string{"src/b.go", "src/a.go"},
			want:  []Cluster{{Folder: "src", Members: []string{"src/a.go", "src/b.go"}}},
		},
		{
			name:  "folder covers file inside it",
			input: []string{"dir/a.txt", "dir/"},
			want:  []Cluster{{Folder: "", Members: []string{"dir"}}},
		},
		{
			name:  "nested folders merge into the outer cluster",
			input: []string{"a/x.go", "a/b/c/y.go", "d/z.go"},
			want: []Cluster{
				{Folder: "a", Members: []string{"a/b/c/y.go", "a/x.go"}},
				{Folder: "d", Members: []string{"d/z.go"}},
			},
		},
		{
			name:  "name prefix is not a folder prefix",
			input: []string{"src/a.go", "srcx/b.go"},
			want: []Cluster{
				{Folder: "src", Members: []string{"src/a.go"}},
				{Folder: "srcx", Members: []string{"srcx/b.go"}},
			},
		},
		{
			name:  "root covers everything",
			input: []string{"a/b.go", "/"},
			want:  []Cluster{{Folder: "", Members: []string{""}}},
		},
		{
			name:  "duplicates collapse",
			input: []string{"a.go", "a.go", "b.go"},
			want:  []Cluster{{Folder: "", Members: []string{"a.go", "b.go"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClusterFiles(tt.input))
		})
	}
}
