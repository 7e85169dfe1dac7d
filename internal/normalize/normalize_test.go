package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sawpanic/stash-indexer/internal/stash"
)

func rawValue(t *testing.T, v any) stash.Value {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return stash.Value{Raw: b}
}

func TestProcessPage_PriceFallbackAndSkip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	page := stash.Page{
		NextChangeID: "B",
		Stashes: []stash.Stash{
			{
				ID:        "s1",
				StashName: "~price 1 chaos",
				Items: []stash.Item{
					{BaseType: "Item With Note", Note: "~b/o 3.5 divine"},
					{BaseType: "Item Without Note"},
				},
			},
			{
				ID: "s2",
				Items: []stash.Item{
					{BaseType: "No Price Anywhere"},
				},
			},
		},
	}

	result := ProcessPage(page, 100, 400, now)

	if result.Event.StashCount != 2 || result.Event.ItemCount != 3 {
		t.Fatalf("event = %+v, want stash_count=2 item_count=3", result.Event)
	}

	if len(result.Items) != 2 {
		t.Fatalf("items = %d, want 2 (one dropped for no price)", len(result.Items))
	}

	byBase := map[string]stash.ItemRow{}
	for _, row := range result.Items {
		byBase[row.Base] = row
	}

	withNote := byBase["Item With Note"]
	if withNote.PriceCurrency != string(stash.DivineOrb) || withNote.PriceQuantity != 3.5 {
		t.Fatalf("item with own note = %+v, want divine 3.5", withNote)
	}

	withoutNote := byBase["Item Without Note"]
	if withoutNote.PriceCurrency != string(stash.ChaosOrb) || withoutNote.PriceQuantity != 1 {
		t.Fatalf("item adopting stash price = %+v, want chaos 1", withoutNote)
	}

	if _, dropped := byBase["No Price Anywhere"]; dropped {
		t.Fatalf("expected unpriced item to be dropped")
	}
}

func TestBuildRow_UniqueNameAndLinks(t *testing.T) {
	item := stash.Item{
		Name:      "Kaom's Heart",
		BaseType:  "Glorious Plate",
		FrameType: uniqueFrameType,
		ILvl:      86,
		Sockets: []stash.Socket{
			{Group: 0}, {Group: 0}, {Group: 0},
			{Group: 1}, {Group: 1},
		},
	}
	row := buildRow(stash.Stash{}, item, stash.ListingPrice{Quantity: 1, Currency: stash.ChaosOrb}, time.Now())

	if row.Name != "Kaom's Heart" {
		t.Fatalf("Name = %q, want unique name to be kept", row.Name)
	}
	if row.Links != 3 {
		t.Fatalf("Links = %d, want 3", row.Links)
	}
}

func TestBuildRow_NonUniqueNameDropped(t *testing.T) {
	item := stash.Item{Name: "Some Magic Item", BaseType: "Plate", FrameType: 1}
	row := buildRow(stash.Stash{}, item, stash.ListingPrice{}, time.Now())
	if row.Name != "" {
		t.Fatalf("Name = %q, want empty for non-unique item", row.Name)
	}
}

func TestPropertyUint8_GemLevelAndQuality(t *testing.T) {
	props := []stash.Property{
		{Name: "Level", Values: [][]stash.Value{{rawValue(t, "20")}}},
		{Name: "Quality", Values: [][]stash.Value{{rawValue(t, "+23%")}}},
	}
	level, ok := propertyUint8(props, "Level")
	if !ok || level != 20 {
		t.Fatalf("level = %d ok=%v, want 20 true", level, ok)
	}
	quality, ok := propertyUint8(props, "Quality")
	if !ok || quality != 23 {
		t.Fatalf("quality = %d ok=%v, want 23 true", quality, ok)
	}
}

func TestTierFromImplicitMods(t *testing.T) {
	mods := []string{"Area is influenced by the Shaper", "Tier 14 Map"}
	if tier := tierFromImplicitMods(mods); tier != 14 {
		t.Fatalf("tier = %d, want 14", tier)
	}
}

func TestSaturateU8(t *testing.T) {
	cases := []struct {
		in   int
		want uint8
	}{{-5, 0}, {0, 0}, {255, 255}, {256, 255}, {300, 255}, {42, 42}}
	for _, tc := range cases {
		if got := saturateU8(tc.in); got != tc.want {
			t.Fatalf("saturateU8(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestInfluencesLabels(t *testing.T) {
	inf := &stash.Influences{Shaper: true, Warlord: true}
	labels := inf.Labels()
	if len(labels) != 2 || labels[0] != "shaper" || labels[1] != "warlord" {
		t.Fatalf("Labels() = %v, want [shaper warlord]", labels)
	}
}
