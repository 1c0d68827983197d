package knowledge

import (
	"fmt"
	"strings"
)

// validatePoints performs all structural checks on the given catalog.
// Returns a combined error describing all problems found, or nil if valid.
// Related ids never affect ordering, so bad ones come back as warnings.
func validatePoints(points []KnowledgePoint) (warnings []string, _ error) {
	var errs []string

	if len(points) == 0 {
		return nil, fmt.Errorf("knowledge graph validation failed:\n  catalog is empty")
	}

	idSet := make(map[string]bool, len(points))
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, fmt.Sprintf("point %q has an empty id", p.Name))
			continue
		}
		if idSet[p.ID] {
			errs = append(errs, fmt.Sprintf("duplicate knowledge point ID: %q", p.ID))
		}
		idSet[p.ID] = true
	}

	for _, p := range points {
		if p.Subject == "" {
			errs = append(errs, fmt.Sprintf("point %q has no subject", p.ID))
		}
		if p.Grade <= 0 {
			errs = append(errs, fmt.Sprintf("point %q: grade must be > 0, got %d", p.ID, p.Grade))
		}
		if p.Difficulty < 1 || p.Difficulty > 5 {
			errs = append(errs, fmt.Sprintf("point %q: difficulty must be in [1, 5], got %d", p.ID, p.Difficulty))
		}
		if p.ParentID == p.ID && p.ID != "" {
			errs = append(errs, fmt.Sprintf("point %q is its own parent", p.ID))
			continue
		}
		if p.ParentID != "" && !idSet[p.ParentID] {
			errs = append(errs, fmt.Sprintf("point %q references nonexistent parent %q", p.ID, p.ParentID))
		}
		for _, r := range p.RelatedIDs {
			switch {
			case r == p.ID:
				warnings = append(warnings, fmt.Sprintf("point %q lists itself as related", p.ID))
			case !idSet[r]:
				warnings = append(warnings, fmt.Sprintf("point %q lists unknown related point %q", p.ID, r))
			}
		}
	}

	// Cycle check with Kahn's algorithm; each node has at most one incoming edge.
	inDegree := make(map[string]int, len(points))
	adj := make(map[string][]string)
	for _, p := range points {
		if p.ParentID != "" && p.ParentID != p.ID && idSet[p.ParentID] {
			inDegree[p.ID] = 1
			adj[p.ParentID] = append(adj[p.ParentID], p.ID)
		}
	}
	var queue []string
	for _, p := range points {
		if inDegree[p.ID] == 0 {
			queue = append(queue, p.ID)
		}
	}
	visited := make(map[string]bool, len(points))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, child := range adj[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	var cycle []string
	for _, p := range points {
		if !visited[p.ID] && inDegree[p.ID] > 0 {
			cycle = append(cycle, p.ID)
		}
	}
	if len(cycle) > 0 {
		errs = append(errs, fmt.Sprintf("cycle detected involving points: %s", strings.Join(cycle, ", ")))
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("knowledge graph validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return warnings, nil
}
