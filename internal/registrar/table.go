package registrar

import "sort"

// registration is one node's attachment to a topic.
type registration struct {
	callerID  string
	callerAPI string
}

// topicTable maps topic names to their registrations in arrival order. A node
// registers at most once per topic; re-registering updates its endpoint URL.
// Not safe for concurrent use; Server guards it.
type topicTable struct {
	entries map[string][]registration
}

func newTopicTable() *topicTable {
	return &topicTable{entries: make(map[string][]registration)}
}

func (t *topicTable) add(topic, callerID, callerAPI string) {
	regs := t.entries[topic]
	for i, r := range regs {
		if r.callerID == callerID {
			regs[i].callerAPI = callerAPI
			return
		}
	}
	t.entries[topic] = append(regs, registration{callerID: callerID, callerAPI: callerAPI})
}

// remove drops the registration matching both callerID and callerAPI and
// reports how many were removed (0 or 1).
func (t *topicTable) remove(topic, callerID, callerAPI string) int {
	regs := t.entries[topic]
	for i, r := range regs {
		if r.callerID == callerID && r.callerAPI == callerAPI {
			regs = append(regs[:i], regs[i+1:]...)
			if len(regs) == 0 {
				delete(t.entries, topic)
			} else {
				t.entries[topic] = regs
			}
			return 1
		}
	}
	return 0
}

// removeNode drops every registration of callerID.
func (t *topicTable) removeNode(callerID string) {
	for topic, regs := range t.entries {
		kept := regs[:0]
		for _, r := range regs {
			if r.callerID != callerID {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(t.entries, topic)
		} else {
			t.entries[topic] = kept
		}
	}
}

func (t *topicTable) apis(topic string) []string {
	regs := t.entries[topic]
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.callerAPI
	}
	return out
}

func (t *topicTable) topics() []string {
	out := make([]string, 0, len(t.entries))
	for topic := range t.entries {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// snapshot renders the table as [[topic, [node...]]...] sorted by topic.
func (t *topicTable) snapshot() [][]any {
	out := make([][]any, 0, len(t.entries))
	for _, topic := range t.topics() {
		regs := t.entries[topic]
		nodes := make([]string, len(regs))
		for i, r := range regs {
			nodes[i] = r.callerID
		}
		out = append(out, []any{topic, nodes})
	}
	return out
}
