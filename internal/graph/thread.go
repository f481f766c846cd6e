// Package graph holds the pure read-side algorithms over a session's
// message map: thread assembly, lowest-common-ancestor lookup, and the
// display-tree builder. Nothing in this package mutates a session.
package graph

import (
	"strings"

	"github.com/starford/ansuz/internal/models"
)

const (
	memoryBlockHeader = "\n[Connected Memory from Parallel Timeline]\n" +
		"(System Note: The following text is a memory retrieved from another timeline. " +
		"Treat it as valid context and part of the conversation history when summarizing " +
		"or answering questions.)\n\n"
	memoryBlockFooter    = "\n\n[End of Memory]\n\n"
	memoryBlockSeparator = "\n\n---\n\n"
)

// FindLCA returns the id of the lowest common ancestor of a and b along the
// primary tree, or "" when the two nodes share no ancestor (different trees
// or missing nodes). The ancestor set of a is built first, then b's chain is
// walked until the first hit.
func FindLCA(a, b string, msgs map[string]*models.Message) string {
	ancestors := make(map[string]struct{})
	for curr := a; curr != ""; {
		ancestors[curr] = struct{}{}
		m := msgs[curr]
		if m == nil {
			break
		}
		curr = m.ParentID
	}
	for curr := b; curr != ""; {
		if _, ok := ancestors[curr]; ok {
			return curr
		}
		m := msgs[curr]
		if m == nil {
			break
		}
		curr = m.ParentID
	}
	return ""
}

// PathToAncestor collects the messages from start up to, but not including,
// ancestor. The result is ordered [start, parent, ...]; callers reverse it
// when they need chronological order. The walk stops silently at a missing
// node.
func PathToAncestor(start, ancestor string, msgs map[string]*models.Message) []*models.Message {
	var path []*models.Message
	for curr := start; curr != "" && curr != ancestor; {
		m := msgs[curr]
		if m == nil {
			break
		}
		path = append(path, m)
		curr = m.ParentID
	}
	return path
}

// AssembleThread walks parent pointers from headID to the root and returns
// the thread in chronological order (root first).
//
// With includeConnections set, every node carrying connection edges gets the
// unique history of each connection source, relative to their common
// ancestor, rendered and prepended to a materialized copy of its content.
// The stored messages are never mutated. The connections-off mode is the
// human-facing view of a thread, where injected memory text would be noise.
//
// An empty headID yields an empty thread; a missing node mid-walk stops the
// walk with the partial thread collected so far.
func AssembleThread(headID string, msgs map[string]*models.Message, includeConnections bool) []*models.Message {
	if headID == "" {
		return nil
	}

	var thread []*models.Message
	visited := make(map[string]struct{})

	for curr := headID; curr != ""; {
		if _, seen := visited[curr]; seen {
			break
		}
		visited[curr] = struct{}{}

		m := msgs[curr]
		if m == nil {
			break
		}

		out := m
		if includeConnections && len(m.Connections) > 0 {
			if block := memoryBlock(m, msgs); block != "" {
				enriched := m.Clone()
				enriched.Content = block + enriched.Content
				out = enriched
			}
		}
		thread = append(thread, out)

		curr = m.ParentID
	}

	// Reverse into chronological order.
	for i, j := 0, len(thread)-1; i < j; i, j = i+1, j-1 {
		thread[i], thread[j] = thread[j], thread[i]
	}
	return thread
}

// memoryBlock renders the injected context for all of m's connections, or ""
// when every connection resolves to an empty unique path.
func memoryBlock(m *models.Message, msgs map[string]*models.Message) string {
	var blocks []string
	for _, sourceID := range m.Connections {
		lca := FindLCA(sourceID, m.ID, msgs)
		side := PathToAncestor(sourceID, lca, msgs)
		if len(side) == 0 {
			continue
		}
		lines := make([]string, len(side))
		for i, entry := range side {
			// side is newest-first; write chronologically.
			lines[len(side)-1-i] = roleTag(entry.Role) + ": " + entry.Content
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	if len(blocks) == 0 {
		return ""
	}
	return memoryBlockHeader + strings.Join(blocks, memoryBlockSeparator) + memoryBlockFooter
}

func roleTag(r models.Role) string {
	if r == models.RoleUser {
		return "[User]"
	}
	return "[AI]"
}

// RenderTrack renders the connections-off thread ending at headID as plain
// "User:" / "AI:" lines. It is the body of a Track block when alternate
// endings are sent for comparison.
func RenderTrack(headID string, msgs map[string]*models.Message) string {
	thread := AssembleThread(headID, msgs, false)
	lines := make([]string, 0, len(thread))
	for _, m := range thread {
		label := "AI"
		if m.Role == models.RoleUser {
			label = "User"
		}
		lines = append(lines, label+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
