// Package turn decides, after an accepted move, whether the client closes the
// turn or leaves it open for a capture chain or a granted extra move.
package turn

import (
	"context"

	"github.com/DoyleJ11/damas-client/internal/engine"
	"github.com/DoyleJ11/damas-client/pkg/types"
	"go.uber.org/zap"
)

type Decision int

const (
	EndTurn Decision = iota
	Continue
)

func (d Decision) String() string {
	if d == Continue {
		return "continue"
	}
	return "end_turn"
}

// Decide keeps the turn open while a capture must continue or a double move
// still has moves left.
func Decide(ts types.TurnState) Decision {
	if ts.MustContinueCapture {
		return Continue
	}
	if ts.DoubleMove.Active && ts.DoubleMove.Remaining > 0 {
		return Continue
	}
	return EndTurn
}

// TurnStateOf returns seat's turn state in snap; a missing snapshot or player
// reads as nothing owed.
func TurnStateOf(snap *types.Snapshot, seat types.Seat) types.TurnState {
	if p := snap.Player(seat); p != nil {
		return p.TurnState
	}
	return types.TurnState{}
}

// Engine is the part of the remote engine a move chain needs.
type Engine interface {
	Move(ctx context.Context, matchID int64, req types.MoveRequest) error
	EndTurn(ctx context.Context, matchID int64, seat types.Seat) error
}

// Refresher forces a state poll.
type Refresher interface {
	FetchOnce(ctx context.Context) (*types.Snapshot, error)
}

// Result describes a completed move chain.
type Result struct {
	Decision Decision
	// Snapshot is the freshest state seen during the chain, nil if every
	// refresh failed.
	Snapshot *types.Snapshot
	// EndTurnErr is an end-turn failure the user should see. The capture-chain
	// sentinel is never reported here.
	EndTurnErr error
}

type Policy struct {
	engine  Engine
	refresh Refresher
	logger  *zap.Logger
}

func NewPolicy(e Engine, r Refresher, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{engine: e, refresh: r, logger: logger}
}

// Play submits req and then runs the completion policy. A move rejection is
// returned as the error with nothing refreshed; anything after an accepted move
// is reported through Result.
func (p *Policy) Play(ctx context.Context, matchID int64, req types.MoveRequest) (Result, error) {
	if err := p.engine.Move(ctx, matchID, req); err != nil {
		return Result{}, err
	}
	p.logger.Info("move accepted",
		zap.Int64("match", matchID),
		zap.String("seat", string(req.Seat)),
		zap.Int64("piece", req.PieceID),
		zap.Any("to", req.To),
	)

	var res Result
	snap, err := p.refresh.FetchOnce(ctx)
	if err != nil {
		p.logger.Warn("refresh after move failed", zap.Error(err))
	} else {
		res.Snapshot = snap
	}

	res.Decision = Decide(TurnStateOf(res.Snapshot, req.Seat))
	if res.Decision == EndTurn {
		if err := p.engine.EndTurn(ctx, matchID, req.Seat); err != nil {
			if engine.IsMustContinue(err) {
				p.logger.Debug("end turn refused, capture chain still open", zap.Int64("match", matchID))
			} else {
				res.EndTurnErr = err
			}
		}
	} else {
		p.logger.Info("turn left open", zap.Int64("match", matchID), zap.String("seat", string(req.Seat)))
	}

	if snap, err := p.refresh.FetchOnce(ctx); err != nil {
		p.logger.Warn("refresh after turn completion failed", zap.Error(err))
	} else {
		res.Snapshot = snap
	}
	return res, nil
}
