package crawler

import (
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/common"
)

var clusterPaths = common.NewPathUtils()

// Cluster is a group of relative paths sharing an enclosing folder. Folder is
// the '/'-separated prefix all members live under; "" is the root.
type Cluster struct {
	Folder  string
	Members []string
}

// ClusterFiles groups relative paths by parent folder for a constrained crawl.
// A path that lies inside another input path is dropped, since walking the
// outer folder already covers it, and clusters whose folders nest are merged
// into the outer one. Trailing slashes mark folders and are ignored. The
// result is ordered by folder with sorted members.
func ClusterFiles(paths []string) []Cluster {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		p = strings.Trim(p, "/")
		if p == "" {
			return []Cluster{{Folder: "", Members: []string{""}}}
		}
		set[p] = struct{}{}
	}

	// parent folder -> cluster index
	byFolder := make(map[string]int)
	var clusters []Cluster
	for p := range set {
		if coveredByAncestor(p, set) {
			continue
		}
		folder := parentOf(p)
		idx, ok := byFolder[folder]
		if !ok {
			idx = len(clusters)
			byFolder[folder] = idx
			clusters = append(clusters, Cluster{Folder: folder})
		}
		clusters[idx].Members = append(clusters[idx].Members, p)
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Folder < clusters[j].Folder
	})

	// fold nested folders into the nearest kept outer cluster; after sorting
	// an outer folder always precedes the folders below it
	var merged []Cluster
	for _, c := range clusters {
		if i := indexOfOuter(merged, c.Folder); i >= 0 {
			merged[i].Members = append(merged[i].Members, c.Members...)
			continue
		}
		merged = append(merged, c)
	}
	for i := range merged {
		sort.Strings(merged[i].Members)
	}
	return merged
}

func coveredByAncestor(p string, set map[string]struct{}) bool {
	for i := strings.LastIndexByte(p, '/'); i > 0; i = strings.LastIndexByte(p[:i], '/') {
		if _, ok := set[p[:i]]; ok {
			return true
		}
	}
	return false
}

func parentOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// indexOfOuter returns the merged cluster whose folder is folder or one of
// its ancestors
func indexOfOuter(merged []Cluster, folder string) int {
	for i := range merged {
		if clusterPaths.IsAncestorOrSelf(merged[i].Folder, folder) {
			return i
		}
	}
	return -1
}
