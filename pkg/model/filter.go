package model

// Filter merges and drops redundant records. queue is in emission order
// when forward is set and in reverse emission order otherwise; the result
// keeps that orientation.
//
// Adjacent moves of the same block in the same group collapse into one
// move from the first origin to the last destination. Adjacent changes to
// the same element of the same block collapse the same way. Null records
// are dropped.
// Records in queue are never mutated.
func Filter(queue []Event, forward bool) []Event {
	in := make([]Event, len(queue))
	copy(in, queue)
	if !forward {
		reverse(in)
	}

	type key struct {
		kind      EventType
		entity    string
		workspace string
		group     string
	}
	type entry struct {
		pos   int // index in merged
		index int // index in in
	}
	seen := make(map[key]*entry)
	var merged []Event
	for i, e := range in {
		if e.IsNull() {
			continue
		}
		kind := e.Type()
		if e.IsUI() {
			kind = "ui"
		}
		k := key{kind, e.EntityID(), e.WorkspaceID(), e.Group()}
		last, ok := seen[k]
		if !ok {
			seen[k] = &entry{pos: len(merged), index: i}
			merged = append(merged, e)
			continue
		}
		switch cur := e.(type) {
		case *BlockMove:
			if last.index == i-1 {
				m := *merged[last.pos].(*BlockMove)
				m.New = cur.New
				merged[last.pos] = &m
				last.index = i
				continue
			}
		case *BlockChange:
			prev := merged[last.pos].(*BlockChange)
			if last.index == i-1 && cur.Element == prev.Element && cur.Name == prev.Name {
				m := *prev
				m.NewValue = cur.NewValue
				merged[last.pos] = &m
				last.index = i
				continue
			}
		}
		seen[k] = &entry{pos: len(merged), index: i}
		merged = append(merged, e)
	}

	out := merged[:0]
	for _, e := range merged {
		if !e.IsNull() {
			out = append(out, e)
		}
	}
	if !forward {
		reverse(out)
	}
	return out
}

func reverse(events []Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
