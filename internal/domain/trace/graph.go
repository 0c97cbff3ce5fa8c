package trace

import "fmt"

// Node is one stage invocation in the action graph.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	BranchID   string         `json:"branch_id,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// Edge links two nodes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the run's action graph.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// BuildGraph lays records out in emission order. Branch records fan out from
// the preceding stage and fan back in to the next one.
func BuildGraph(records []Record) Graph {
	g := Graph{Nodes: make([]Node, 0, len(records)), Edges: []Edge{}}
	lastMain := ""
	var pending []string

	for i, r := range records {
		id := fmt.Sprintf("n%d", i)
		branch, _ := r.Attributes[AttrBranchID].(string)
		g.Nodes = append(g.Nodes, Node{
			ID:         id,
			Label:      r.Name,
			BranchID:   branch,
			Attributes: cloneRecord(r).Attributes,
		})

		if branch != "" {
			if lastMain != "" {
				g.Edges = append(g.Edges, Edge{Source: lastMain, Target: id})
			}
			pending = append(pending, id)
			continue
		}

		if len(pending) > 0 {
			for _, p := range pending {
				g.Edges = append(g.Edges, Edge{Source: p, Target: id})
			}
			pending = nil
		} else if lastMain != "" {
			g.Edges = append(g.Edges, Edge{Source: lastMain, Target: id})
		}
		lastMain = id
	}
	return g
}
