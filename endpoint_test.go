package nsq

import "testing"

func TestEndpointString(t *testing.T) {
	e := Endpoint{Host: "127.0.0.1", Port: 4150}
	if got, want := e.String(), "127.0.0.1:4150"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestEndpointLess(t *testing.T) {
	a := Endpoint{Host: "a.example.com", Port: 4150}
	b := Endpoint{Host: "b.example.com", Port: 4150}
	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Fatalf("did not expect %v < %v", b, a)
	}

	c := Endpoint{Host: "a.example.com", Port: 4151}
	if !a.Less(c) {
		t.Fatalf("expected %v < %v (port tiebreak)", a, c)
	}
}

func TestParseEndpoint(t *testing.T) {
	e, err := ParseEndpoint("127.0.0.1:4150")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if e.Host != "127.0.0.1" || e.Port != 4150 {
		t.Fatalf("got %+v", e)
	}

	if _, err := ParseEndpoint("not-an-address"); err == nil {
		t.Fatal("expected error for malformed address")
	}
	if _, err := ParseEndpoint("127.0.0.1:notaport"); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}
