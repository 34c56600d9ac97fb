package server

import (
	"time"

	"github.com/rybkr/legendlog/internal/answer"
)

// TreeItem is the wire form of a tree node.
type TreeItem struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Label      string     `json:"label"`
	State      string     `json:"state,omitempty"`
	CheckRunID string     `json:"checkRunId,omitempty"`
	ParentSHA  string     `json:"parentSha,omitempty"`
	HTMLURL    string     `json:"htmlUrl,omitempty"`
	Open       bool       `json:"open,omitempty"`
	Children   []TreeItem `json:"children,omitempty"`
}

func toItem(node answer.Node, now time.Time, nested bool) TreeItem {
	item := TreeItem{
		ID:    node.NodeID(),
		Kind:  node.Kind().String(),
		Label: node.Label(),
	}
	switch n := node.(type) {
	case *answer.Answer:
		item.State = string(n.State(now))
		item.HTMLURL = n.HTMLURL()
		item.Open = n.Open
		if nested {
			for _, c := range n.Commits {
				item.Children = append(item.Children, toItem(c, now, false))
			}
		}
	case *answer.Commit:
		item.State = string(n.State(now))
		item.CheckRunID = n.CheckRunID
		item.ParentSHA = n.ParentSHA
	}
	return item
}

func toItems(nodes []answer.Node, now time.Time, nested bool) []TreeItem {
	items := make([]TreeItem, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, toItem(n, now, nested))
	}
	return items
}
