// Package power holds the purchasable powers and the local checks run before an
// activation is sent to the engine.
package power

import "github.com/DoyleJ11/damas-client/pkg/types"

type Owner int

const (
	OwnerAny Owner = iota
	OwnerSelf
	OwnerOpponent
)

func (o Owner) String() string {
	switch o {
	case OwnerSelf:
		return "self"
	case OwnerOpponent:
		return "opponent"
	default:
		return "any"
	}
}

// Profile says what an activation must point at.
type Profile struct {
	RequiresPiece   bool
	Owner           Owner
	RequiresCell    bool
	CellMustBeEmpty bool
}

type Power struct {
	Slug        string
	Name        string
	Description string
	Price       int
	Profile     Profile
}

var catalog = []Power{
	{
		Slug:        "escudo",
		Name:        "Shield",
		Description: "Blocks one capture during the opponent's turn.",
		Price:       20,
		Profile:     Profile{RequiresPiece: true, Owner: OwnerSelf},
	},
	{
		Slug:        "sanador",
		Name:        "Healer",
		Description: "Revives an allied piece on an empty cell.",
		Price:       35,
		Profile:     Profile{RequiresCell: true, CellMustBeEmpty: true},
	},
	{
		Slug:        "super_salto",
		Name:        "Super jump",
		Description: "Allows one special long capture.",
		Price:       25,
	},
	{
		Slug:        "doble_mov",
		Name:        "Double move",
		Description: "Move twice this turn.",
		Price:       30,
	},
	{
		Slug:        "coronacion",
		Name:        "Coronation",
		Description: "Crowns a piece instantly.",
		Price:       40,
		Profile:     Profile{RequiresPiece: true, Owner: OwnerSelf},
	},
	{
		Slug:        "autodestruccion",
		Name:        "Self-destruct",
		Description: "Your piece explodes, removing a nearby enemy piece.",
		Price:       35,
		Profile:     Profile{RequiresPiece: true, Owner: OwnerSelf},
	},
	{
		Slug:        "trampa",
		Name:        "Trap",
		Description: "Places a hidden trap on an empty cell.",
		Price:       25,
		Profile:     Profile{RequiresCell: true, CellMustBeEmpty: true},
	},
	{
		Slug:        "aturdimiento",
		Name:        "Stun",
		Description: "An enemy piece cannot move for two turns.",
		Price:       30,
		Profile:     Profile{RequiresPiece: true, Owner: OwnerOpponent},
	},
}

var bySlug = func() map[string]Power {
	m := make(map[string]Power, len(catalog))
	for _, p := range catalog {
		m[p.Slug] = p
	}
	return m
}()

// Catalog returns every power in shop order.
func Catalog() []Power {
	out := make([]Power, len(catalog))
	copy(out, catalog)
	return out
}

func Lookup(slug string) (Power, bool) {
	p, ok := bySlug[slug]
	return p, ok
}

// ProfileOf returns the requirements for slug. Unknown slugs have none and are
// left for the engine to reject.
func ProfileOf(slug string) Profile {
	return bySlug[slug].Profile
}

// Mine lists the seat's own inventory entries that still have stock.
func Mine(inv []types.InventoryItem, seat types.Seat) []types.InventoryItem {
	var out []types.InventoryItem
	if seat == types.Spectator {
		return out
	}
	for _, it := range inv {
		if it.Seat == seat && it.Qty > 0 {
			out = append(out, it)
		}
	}
	return out
}

// Opponent lists inventory entries held by a seat other than seat.
func Opponent(inv []types.InventoryItem, seat types.Seat) []types.InventoryItem {
	var out []types.InventoryItem
	for _, it := range inv {
		if it.Seat != types.Spectator && it.Seat != seat {
			out = append(out, it)
		}
	}
	return out
}
