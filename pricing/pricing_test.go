package pricing

import "testing"

func TestQuoteNoFlagsEqualsBase(t *testing.T) {
	table := DefaultTable()
	quote := table.Quote(Flags{})
	if quote.FinalPrice != table.Base {
		t.Fatalf("expected base price %d, got %d", table.Base, quote.FinalPrice)
	}
	if quote.Discount != 0 {
		t.Fatalf("expected zero discount, got %d", quote.Discount)
	}
}

func TestQuoteDeterministic(t *testing.T) {
	table := DefaultTable()
	flags := Flags{Casted: true, FollowsCreator: true, InChannel: true}
	first := table.Quote(flags)
	for i := 0; i < 10; i++ {
		if got := table.Quote(flags); got != first {
			t.Fatalf("quote changed between calls: %+v != %+v", got, first)
		}
	}
	want := table.Base - table.Cast - 2*table.Follow
	if first.FinalPrice != want {
		t.Fatalf("expected final price %d, got %d", want, first.FinalPrice)
	}
}

func TestQuoteSumsEveryFlag(t *testing.T) {
	table := DefaultTable()
	all := Flags{
		Casted: true, Recasted: true, Tweeted: true,
		FollowsCreator: true, FollowsArtist: true, InChannel: true,
		FarcasterPro: true, EarlyFID: true,
	}
	quote := table.Quote(all)
	wantDiscount := table.Cast + table.Recast + table.Tweet + 3*table.Follow + table.Pro + table.EarlyFID
	if quote.Discount != wantDiscount {
		t.Fatalf("expected discount %d, got %d", wantDiscount, quote.Discount)
	}
	if quote.FinalPrice != table.Base-wantDiscount {
		t.Fatalf("expected final price %d, got %d", table.Base-wantDiscount, quote.FinalPrice)
	}
}

func TestQuoteClampsAtZero(t *testing.T) {
	table := Table{Base: 100, Cast: 80, Recast: 80}
	quote := table.Quote(Flags{Casted: true, Recasted: true})
	if quote.FinalPrice != 0 {
		t.Fatalf("expected clamped price 0, got %d", quote.FinalPrice)
	}
}

func TestUnionCommutesAndIsIdempotent(t *testing.T) {
	a := Flags{Casted: true, FollowsArtist: true}
	b := Flags{Tweeted: true, FollowsArtist: true}
	if Union(a, b) != Union(b, a) {
		t.Fatal("union is not commutative")
	}
	merged := Union(a, b)
	if Union(merged, b) != merged {
		t.Fatal("union is not idempotent")
	}
}
