package vm

// CostPerUnit is the base cost of every value node.
const CostPerUnit = 8

// CalculateCost estimates the memory held by v: CostPerUnit per node plus
// the byte length of strings. A container reached twice during one
// calculation (shared or cyclic) is charged CostPerUnit the second time.
func CalculateCost(v Value) int {
	return costOf(v, nil)
}

func costOf(v Value, marked map[any]struct{}) int {
	switch x := v.(type) {
	case String:
		return CostPerUnit + len(x)
	case DateTime:
		return CostPerUnit + len(x.Zone)
	case Interval:
		return CostPerUnit + len(x.Unit)
	case *Array:
		if seen(&marked, x) {
			return CostPerUnit
		}
		return CostPerUnit + costOfItems(x.Items, marked)
	case *Tuple:
		if seen(&marked, x) {
			return CostPerUnit
		}
		return CostPerUnit + costOfItems(x.Items, marked)
	case *Mapping:
		if seen(&marked, x) {
			return CostPerUnit
		}
		cost := CostPerUnit
		x.Each(func(k, val Value) bool {
			cost += costOf(k, marked) + costOf(val, marked)
			return true
		})
		return cost
	case *ErrorValue:
		if seen(&marked, x) {
			return CostPerUnit
		}
		return CostPerUnit + len(x.Type) + costOf(x.Message, marked) + costOf(x.Payload, marked)
	}
	return CostPerUnit
}

func costOfItems(items []Value, marked map[any]struct{}) int {
	cost := 0
	for _, item := range items {
		cost += costOf(item, marked)
	}
	return cost
}

// seen marks container c and reports whether it was already marked. The
// set is allocated on the first container.
func seen(marked *map[any]struct{}, c any) bool {
	if *marked == nil {
		*marked = map[any]struct{}{}
	}
	if _, ok := (*marked)[c]; ok {
		return true
	}
	(*marked)[c] = struct{}{}
	return false
}
