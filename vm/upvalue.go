package vm

// Upvalue is a captured variable. While open it aliases an operand stack
// slot; once closed it owns a copy of the value.
type Upvalue struct {
	ID       uint64
	Location int
	Closed   bool
	Value    Value
}

// upvalueTable is the arena of every upvalue created during an execution.
// Ids are 1-based positions in the arena. open lists the ids still aliasing
// the stack, sorted by ascending location.
type upvalueTable struct {
	all  []Upvalue
	open []uint64
}

func (t *upvalueTable) get(id uint64) *Upvalue {
	if id == 0 || id > uint64(len(t.all)) {
		panic(malformedf("Invalid upvalue id %d", id))
	}
	return &t.all[id-1]
}

// capture returns the open upvalue for stack location loc, creating it when
// none exists so that every closure capturing the same slot shares it.
func (t *upvalueTable) capture(loc int) uint64 {
	i := len(t.open)
	for i > 0 {
		uv := t.get(t.open[i-1])
		if uv.Location == loc {
			return uv.ID
		}
		if uv.Location < loc {
			break
		}
		i--
	}
	id := uint64(len(t.all) + 1)
	t.all = append(t.all, Upvalue{ID: id, Location: loc})
	t.open = append(t.open, 0)
	copy(t.open[i+1:], t.open[i:])
	t.open[i] = id
	return id
}

// close closes every open upvalue at or above stack index from, copying the
// current slot values out of stack.
func (t *upvalueTable) close(from int, stack []Value) {
	for len(t.open) > 0 {
		uv := t.get(t.open[len(t.open)-1])
		if uv.Location < from {
			return
		}
		uv.Closed = true
		if uv.Location < len(stack) {
			uv.Value = stack[uv.Location]
		} else {
			uv.Value = Null
		}
		t.open = t.open[:len(t.open)-1]
	}
}
