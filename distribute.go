package nsq

import "sort"

// distribute partitions total into len(conns) non-negative integer
// shares, each clamped by that connection's MaxRdyCount, differing by
// at most one among any connections sharing the same ceiling (spec.md
// §4.5/§8/§9). Shares sum to total whenever total does not exceed the
// sum of the live connections' ceilings (spec.md §8's "sum of
// last_ready_sent over live connections equals max_in_flight" holds in
// that case); when it does, every connection gets its ceiling and the
// sum necessarily falls short — there is no other connection left to
// absorb the difference (SPEC_FULL.md §D).
//
// Water-filling: an even split that would push a connection over its
// ceiling instead gives it exactly its ceiling and re-splits the
// leftover across the remaining connections, repeating until no
// connection is over its ceiling.
//
// conns is sorted by Endpoint first so repeated calls with an
// unchanged live set produce an identical assignment — the
// deterministic tie-break spec.md §9 leaves unspecified but requires
// be stable.
func distribute(conns []*Connection, total int) map[*Connection]int64 {
	shares := make(map[*Connection]int64, len(conns))
	if len(conns) == 0 {
		return shares
	}

	active := make([]*Connection, len(conns))
	copy(active, conns)
	sort.Slice(active, func(i, j int) bool {
		return active[i].Endpoint().Less(active[j].Endpoint())
	})

	remaining := int64(total)
	for len(active) > 0 {
		n := int64(len(active))
		base := remaining / n
		extra := remaining % n

		var next []*Connection
		capped := false
		for i, c := range active {
			want := base
			if int64(i) < extra {
				want++
			}
			if max := c.MaxRdyCount(); max > 0 && want > max {
				shares[c] = max
				remaining -= max
				capped = true
				continue
			}
			next = append(next, c)
		}

		if !capped {
			for i, c := range next {
				want := base
				if int64(i) < extra {
					want++
				}
				shares[c] = want
			}
			break
		}
		active = next
	}
	return shares
}
