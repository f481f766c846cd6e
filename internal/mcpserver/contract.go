package mcpserver

// GraphContract describes the conversation graph semantics that
// LLM consumers should understand before forking or connecting nodes.
const GraphContract = `# Ansuz Conversation Graph Contract

Conversations are trees, not lists. Every exchange is a turn: one user
message paired with one model message. Turns form a tree through
parent/child links, and any node can grow multiple children, each a
separate timeline.

## Core concepts

- **Head.** Each session has one current head. New messages are appended
  under it, and the thread shown to the model is the walk from the root
  to the head. Moving the head to another node switches timelines without
  losing anything.
- **Fork.** Rewriting a turn with ` + "`" + `fork_from` + "`" + ` creates a sibling branch
  next to the original. Both branches stay in the tree; the head moves to
  the new one.
- **Track.** A leaf node and the unique path from the root to it. Tracks
  are the "endings" of the conversation multiverse.

## Memory links

` + "`" + `connect_nodes(source, target)` + "`" + ` makes the full thread ending at
*source* visible to the model whenever a thread containing *target* is
sent. The injected text is wrapped in a clearly labeled memory block and
exists only in the outgoing request; stored messages are never modified.

Rules:

1. A node cannot connect to itself.
2. If *source* is an ancestor of *target*, the link is rejected as
   redundant: ancestors are already part of the thread.
3. If *target* is an ancestor of *source*, the link is rejected as
   cyclic: the injected thread would contain its own injection point.
4. Links are one-directional and deduplicated. Connecting the same pair
   twice is a no-op.

## Editing

Editing without forking **deletes** the old turn and everything below it,
then creates a replacement in place. Memory links held by the replaced
user message carry over; links from deleted descendants are gone. Use
` + "`" + `fork_from` + "`" + ` when the old branch should survive.
`
