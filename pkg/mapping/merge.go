package mapping

// ImmutableKeys are the mapping keys an operator sets once and which must
// never drift silently: accidental type/analyzer changes break existing
// data, so the live value always wins on conflict (spec §9).
var ImmutableKeys = map[string]bool{
	"type":       true,
	"analyzer":   true,
	"normalizer": true,
	"index":      true,
	"store":      true,
}

// Merge returns a new mapping tree combining a live mapping with a
// pending one: immutable keys keep their live value, non-immutable keys
// take the pending value, and keys present only in the live mapping are
// retained. It never mutates either input.
func Merge(live, pending map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(live)+len(pending))
	for k, v := range live {
		out[k] = v
	}

	for k, pendingVal := range pending {
		liveVal, existsInLive := live[k]
		if !existsInLive {
			out[k] = pendingVal
			continue
		}
		if ImmutableKeys[k] {
			// keep the live value; it's already in out.
			continue
		}

		liveMap, liveIsMap := liveVal.(map[string]interface{})
		pendingMap, pendingIsMap := pendingVal.(map[string]interface{})
		if liveIsMap && pendingIsMap {
			out[k] = Merge(liveMap, pendingMap)
			continue
		}
		out[k] = pendingVal
	}

	return out
}

// Changed reports whether applying Merge(live, pending) would produce a
// mapping different from live — i.e. whether there is real settings
// drift worth a close/reopen cycle. Used to keep upgrade idempotent
// (spec §8 "a second upgrade_search issues no close/open cycle").
func Changed(live, pending map[string]interface{}) bool {
	return !equalTrees(live, Merge(live, pending))
}

func equalTrees(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		am, aIsMap := av.(map[string]interface{})
		bm, bIsMap := bv.(map[string]interface{})
		if aIsMap != bIsMap {
			return false
		}
		if aIsMap {
			if !equalTrees(am, bm) {
				return false
			}
			continue
		}
		if !equalScalar(av, bv) {
			return false
		}
	}
	return true
}

func equalScalar(a, b interface{}) bool {
	as, aIsSlice := a.([]string)
	bs, bIsSlice := b.([]string)
	if aIsSlice && bIsSlice {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
