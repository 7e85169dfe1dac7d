// Package normalize converts raw stash pages into the ItemRow/
// StatisticsEvent projection persisted to the analytics store.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/stash-indexer/internal/stash"
)

const uniqueFrameType = 3

// Result is one page's normalized output.
type Result struct {
	Items Batch
	Event stash.StatisticsEvent
}

// Batch is a slice of normalized item rows ready for bulk insert.
type Batch []stash.ItemRow

// ProcessPage normalizes a decoded page into item rows and a statistics
// event. An item with no discoverable price, on itself or its enclosing
// stash, is dropped from the batch; the statistics event still reflects
// the input page's full stash/item counts.
func ProcessPage(page stash.Page, compressedBytes, decompressedBytes uint32, now time.Time) Result {
	var rows Batch
	var stashCount, itemCount uint32

	for _, st := range page.Stashes {
		stashCount++
		stashPrice, stashHasPrice := stash.ParsePrice(st.StashName)

		for _, item := range st.Items {
			itemCount++

			price, ok := stash.ParsePrice(item.Note)
			if !ok {
				if !stashHasPrice {
					continue
				}
				price = stashPrice
			}

			rows = append(rows, buildRow(st, item, price, now))
		}
	}

	return Result{
		Items: rows,
		Event: stash.StatisticsEvent{
			Timestamp:         now,
			StashCount:        stashCount,
			ItemCount:         itemCount,
			CompressedBytes:   compressedBytes,
			DecompressedBytes: decompressedBytes,
		},
	}
}

func buildRow(st stash.Stash, item stash.Item, price stash.ListingPrice, now time.Time) stash.ItemRow {
	name := ""
	if item.FrameType == uniqueFrameType {
		name = item.Name
	}

	league := item.League
	if league == "" {
		league = st.League
	}

	level, _ := propertyUint8(item.Properties, "Level")
	quality, _ := propertyUint8(item.Properties, "Quality")
	passives, _ := propertyUint8(item.Properties, "Added Small Passive Skills")
	if passives == 0 {
		passives, _ = propertyUint8(item.Properties, "Added Passives")
	}
	tier, tierFound := propertyUint8(item.Properties, "Map Tier")
	if !tierFound {
		tier, tierFound = propertyUint8(item.Properties, "Tier")
	}
	if !tierFound && strings.Contains(item.TypeLine, "Map") {
		tier = tierFromImplicitMods(item.ImplicitMods)
	}

	return stash.ItemRow{
		Timestamp:     now,
		League:        league,
		Base:          item.BaseType,
		Name:          name,
		Links:         largestLinkGroup(item.Sockets),
		ILvl:          saturateU8(item.ILvl),
		FrameType:     saturateU8(item.FrameType),
		Corrupted:     item.Corrupted,
		StackSize:     stackSize(item.StackSize),
		Level:         level,
		Quality:       quality,
		Passives:      passives,
		Tier:          tier,
		Influences:    item.Influences.Labels(),
		PriceQuantity: price.Quantity,
		PriceCurrency: string(price.Currency),
	}
}

// largestLinkGroup returns the size of the biggest contiguous socket-group
// bucket, saturated to uint8 (max possible is 6 on real items, but the
// upstream feed is not trusted to enforce that).
func largestLinkGroup(sockets []stash.Socket) uint8 {
	if len(sockets) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, s := range sockets {
		counts[s.Group]++
	}
	var max int
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return saturateU8(max)
}

// propertyUint8 finds the first property matching name and parses its
// first value as an unsigned integer, stripping a trailing "%" for
// quality-style values. ok is false when the property is absent or
// unparseable.
func propertyUint8(props []stash.Property, name string) (value uint8, ok bool) {
	for _, p := range props {
		if p.Name != name {
			continue
		}
		if len(p.Values) == 0 || len(p.Values[0]) == 0 {
			return 0, false
		}
		raw := strings.TrimSuffix(p.Values[0][0].String(), "%")
		raw = strings.TrimPrefix(raw, "+")
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false
		}
		return saturateU8(n), true
	}
	return 0, false
}

// tierFromImplicitMods scans implicit mod text for a "Tier <n>" token, the
// fallback source for map tier when no structured property carries it.
func tierFromImplicitMods(mods []string) uint8 {
	const marker = "Tier "
	for _, mod := range mods {
		idx := strings.Index(mod, marker)
		if idx == -1 {
			continue
		}
		rest := mod[idx+len(marker):]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == 0 {
			continue
		}
		n, err := strconv.Atoi(rest[:end])
		if err != nil {
			continue
		}
		return saturateU8(n)
	}
	return 0
}

func saturateU8(n int) uint8 {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

func stackSize(n int) uint16 {
	if n < 1 {
		return 1
	}
	if n > 65535 {
		return 65535
	}
	return uint16(n)
}
