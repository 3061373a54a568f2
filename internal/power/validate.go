package power

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/damas-client/internal/selection"
	"github.com/DoyleJ11/damas-client/pkg/types"
)

// ErrLocalValidation is the root of every rejection made without contacting the
// engine.
var ErrLocalValidation = errors.New("activation rejected locally")

var (
	ErrMissingSelection = fmt.Errorf("%w: select a piece or cell first", ErrLocalValidation)
	ErrWrongOwner       = fmt.Errorf("%w: selected piece belongs to the wrong seat", ErrLocalValidation)
	ErrCellNotEmpty     = fmt.Errorf("%w: cell must have no piece and no trap", ErrLocalValidation)
)

// Validate checks sel against p for the acting seat. A nil sel means nothing is
// selected.
func Validate(p Profile, sel *selection.Selection, seat types.Seat) error {
	if p.RequiresPiece {
		if sel == nil || sel.Piece == nil {
			return ErrMissingSelection
		}
		mine := sel.Piece.Seat == seat
		if (p.Owner == OwnerSelf && !mine) || (p.Owner == OwnerOpponent && mine) {
			return ErrWrongOwner
		}
	}
	if p.RequiresCell {
		if sel == nil {
			return ErrMissingSelection
		}
		if p.CellMustBeEmpty && (sel.Piece != nil || sel.Trap != nil) {
			return ErrCellNotEmpty
		}
	}
	return nil
}

// Request validates sel for slug and builds the activation body. The piece id is
// set for piece powers and the target for cell powers.
func Request(slug string, sel *selection.Selection, seat types.Seat) (types.ActivatePowerRequest, error) {
	p := ProfileOf(slug)
	if err := Validate(p, sel, seat); err != nil {
		return types.ActivatePowerRequest{}, err
	}
	req := types.ActivatePowerRequest{Seat: seat, PowerSlug: slug}
	if p.RequiresPiece {
		id := sel.Piece.ID
		req.PieceID = &id
	}
	if p.RequiresCell {
		c := sel.Coord()
		req.Target = &c
	}
	return req, nil
}
