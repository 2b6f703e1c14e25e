package topology

import "testing"

func TestMapping_EndpointAndRouterRoundTrip(t *testing.T) {
	p, err := NewParams(4, 2)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	m := NewMapping(p)

	lp := m.EndpointLP(RankID(5))
	if rank := m.RankOfEndpoint(lp); rank != 5 {
		t.Errorf("RankOfEndpoint(EndpointLP(5)) = %d, want 5", rank)
	}
}

func TestMapping_AttachedRouter(t *testing.T) {
	p, err := NewParams(4, 2)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	m := NewMapping(p)

	// NumCN == 2, so ranks 0,1 attach to router 0 and ranks 2,3 to router 1.
	cases := []struct {
		rank   RankID
		router RouterLPID
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 1},
	}
	for _, c := range cases {
		lp := m.EndpointLP(c.rank)
		if got := m.AttachedRouter(lp); got != c.router {
			t.Errorf("AttachedRouter(rank %d) = %d, want %d", c.rank, got, c.router)
		}
	}
}

func TestMapping_GroupOfRouter(t *testing.T) {
	p, err := NewParams(4, 2)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	m := NewMapping(p)
	if g := m.GroupOfRouter(RouterLPID(5)); g != p.GroupOf(5) {
		t.Errorf("GroupOfRouter(5) = %d, want %d", g, p.GroupOf(5))
	}
}
