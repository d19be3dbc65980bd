package nsq

import "testing"

func testConn(host string, port int) *Connection {
	c := NewConnection(Endpoint{Host: host, Port: port}, NewConfig())
	return c
}

func TestDistributeEvenSplit(t *testing.T) {
	conns := []*Connection{
		testConn("a.example.com", 4150),
		testConn("b.example.com", 4150),
		testConn("c.example.com", 4150),
		testConn("d.example.com", 4150),
	}
	shares := distribute(conns, 20)

	var sum int64
	for _, c := range conns {
		sum += shares[c]
		if shares[c] != 5 {
			t.Errorf("share for %s = %d, want 5", c.Endpoint(), shares[c])
		}
	}
	if sum != 20 {
		t.Errorf("sum of shares = %d, want 20", sum)
	}
}

func TestDistributeFairnessWithRemainder(t *testing.T) {
	conns := []*Connection{
		testConn("a.example.com", 4150),
		testConn("b.example.com", 4150),
		testConn("c.example.com", 4150),
	}
	shares := distribute(conns, 10)

	var sum, min, max int64 = 0, shares[conns[0]], shares[conns[0]]
	for _, c := range conns {
		s := shares[c]
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if sum != 10 {
		t.Fatalf("sum of shares = %d, want 10", sum)
	}
	if max-min > 1 {
		t.Fatalf("shares differ by more than one: min=%d max=%d", min, max)
	}
}

func TestDistributeIsDeterministic(t *testing.T) {
	conns := []*Connection{
		testConn("z.example.com", 4150),
		testConn("a.example.com", 4150),
		testConn("m.example.com", 4150),
	}
	first := distribute(conns, 10)
	second := distribute(conns, 10)
	for _, c := range conns {
		if first[c] != second[c] {
			t.Fatalf("non-deterministic share for %s: %d vs %d", c.Endpoint(), first[c], second[c])
		}
	}
}

func TestDistributeClampsAndRedistributesShortfall(t *testing.T) {
	low := testConn("a.example.com", 4150)
	low.maxRdyCount = 2
	high := testConn("b.example.com", 4150)
	high.maxRdyCount = 100

	shares := distribute([]*Connection{low, high}, 10)
	if shares[low] != 2 {
		t.Errorf("clamped share for low = %d, want 2", shares[low])
	}
	if shares[high] != 8 {
		t.Errorf("share for high = %d, want 8 (its own 5 plus the 3 low couldn't take)", shares[high])
	}
	if shares[low]+shares[high] != 10 {
		t.Fatalf("sum of shares = %d, want 10 (spec.md §8's sum invariant)", shares[low]+shares[high])
	}
}

func TestDistributeRedistributionCascades(t *testing.T) {
	// Three low-ceiling connections and one high-ceiling one: the
	// leftover from capping the first three must all land on the
	// fourth, not just get split once and dropped.
	a := testConn("a.example.com", 4150)
	a.maxRdyCount = 1
	b := testConn("b.example.com", 4150)
	b.maxRdyCount = 1
	c := testConn("c.example.com", 4150)
	c.maxRdyCount = 1
	d := testConn("d.example.com", 4150)
	d.maxRdyCount = 1000

	shares := distribute([]*Connection{a, b, c, d}, 100)
	if shares[a] != 1 || shares[b] != 1 || shares[c] != 1 {
		t.Fatalf("capped connections: a=%d b=%d c=%d, want 1 each", shares[a], shares[b], shares[c])
	}
	if shares[d] != 97 {
		t.Fatalf("share for d = %d, want 97", shares[d])
	}

	var sum int64
	for _, s := range shares {
		sum += s
	}
	if sum != 100 {
		t.Fatalf("sum of shares = %d, want 100", sum)
	}
}

func TestDistributeUnsatisfiableDemandGivesEveryoneItsCeiling(t *testing.T) {
	a := testConn("a.example.com", 4150)
	a.maxRdyCount = 2
	b := testConn("b.example.com", 4150)
	b.maxRdyCount = 3

	shares := distribute([]*Connection{a, b}, 100)
	if shares[a] != 2 || shares[b] != 3 {
		t.Fatalf("got a=%d b=%d, want each connection's own ceiling (2, 3)", shares[a], shares[b])
	}
}

func TestDistributeEmpty(t *testing.T) {
	shares := distribute(nil, 10)
	if len(shares) != 0 {
		t.Fatalf("expected no shares for an empty connection set, got %v", shares)
	}
}
