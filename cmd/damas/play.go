package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/DoyleJ11/damas-client/internal/chat"
	"github.com/DoyleJ11/damas-client/internal/config"
	"github.com/DoyleJ11/damas-client/internal/httpapi"
	"github.com/DoyleJ11/damas-client/internal/presence"
	"github.com/DoyleJ11/damas-client/internal/session"
	"github.com/DoyleJ11/damas-client/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errNoMatch = errors.New("no active match to resume; pass --match")

func newPlayCmd(cfg *config.Config) *cobra.Command {
	var (
		matchID int64
		seat    string
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a match and serve it to a local renderer until it ends.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close()) }()
			return play(cmd.Context(), a, matchID, seat)
		},
	}
	fs := cmd.Flags()
	fs.Int64Var(&matchID, "match", 0, "match id (defaults to the active match)")
	fs.StringVar(&seat, "seat", "", "seat A or B; defaults to the seat held by --user-id")
	return cmd
}

// resolveMatch picks the match from the flag or the remembered active match. An
// explicit seat wins over the remembered one.
func resolveMatch(a *app, matchID int64, seat string) (int64, types.Seat, error) {
	rec, ok := a.store.Current()
	switch {
	case matchID > 0:
	case ok:
		matchID = rec.MatchID
	default:
		return 0, types.Spectator, errNoMatch
	}
	if seat != "" {
		return matchID, types.ParseSeat(seat), nil
	}
	if ok && rec.MatchID == matchID {
		return matchID, rec.Seat, nil
	}
	return matchID, types.Spectator, nil
}

// leaveWhenOver calls cancel once the match ends for this client: its presence
// record goes away or moves to another match, or the polled snapshot reports it
// finished. The latter covers spectators and clients without a presence record.
func leaveWhenOver(sess *session.Session, store *presence.Store, id int64, log *zap.Logger, cancel context.CancelFunc) func() {
	var once sync.Once
	leave := func(reason string) {
		once.Do(func() {
			log.Info("leaving match", zap.String("reason", reason))
			cancel()
		})
	}
	finished := func(v session.View) bool {
		return v.Snapshot != nil && v.Snapshot.Match.Status == types.StatusFinished
	}

	unsubPresence := store.OnPresenceChange(func(rec presence.Record, ok bool) {
		if !ok || rec.MatchID != id {
			leave("active match cleared")
		}
	})
	unsubView := sess.OnChange(func(v session.View) {
		if finished(v) {
			leave("match finished")
		}
	})
	if finished(sess.View()) {
		leave("match finished")
	}
	return func() {
		unsubPresence()
		unsubView()
	}
}

func play(parent context.Context, a *app, matchID int64, seatFlag string) error {
	cfg := a.cfg
	id, seat, err := resolveMatch(a, matchID, seatFlag)
	if err != nil {
		return err
	}
	log := a.logger.With(zap.Int64("match", id))

	if cfg.UserID > 0 {
		w := session.NewLobbyWatcher(a.api, a.store, id, cfg.UserID,
			session.WithLobbyInterval(cfg.LobbyPollInterval),
			session.WithLobbyLogger(log.Named("lobby")),
		)
		log.Info("waiting in match room")
		m, err := w.WaitUntilStarted(parent)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if m.Status == types.StatusFinished {
			return fmt.Errorf("match %d has already finished", id)
		}
		if seatFlag == "" {
			seat = m.SeatOf(cfg.UserID)
		}
	}

	sess, err := session.New(a.api, a.store,
		session.Config{MatchID: id, Seat: seat, UserID: cfg.UserID},
		session.WithPollInterval(cfg.PollInterval),
		session.WithLogger(log.Named("session")),
	)
	if err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		return err
	}
	defer sess.Stop()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	defer leaveWhenOver(sess, a.store, id, log, cancel)()

	var (
		turnMu   sync.Mutex
		lastTurn types.Seat
	)
	unsubView := sess.OnChange(func(v session.View) {
		if v.Snapshot == nil {
			return
		}
		turnMu.Lock()
		defer turnMu.Unlock()
		if cur := v.Snapshot.Match.CurrentTurn; cur != lastTurn {
			lastTurn = cur
			log.Info("turn", zap.String("current", string(cur)), zap.Bool("mine", cur == seat))
		}
	})
	defer unsubView()

	hub := chat.NewHub(ctx)
	defer func() { hub.Inbox() <- chat.ShutdownHub{} }()

	author := cfg.Username
	if author == "" {
		author = fmt.Sprintf("Seat %s", seat)
	}
	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: httpapi.SetupRoutes(httpapi.Bridge{
			Session:  sess,
			Presence: a.store,
			Chat:     hub,
			Author:   author,
			Logger:   log.Named("bridge"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("renderer bridge listening", zap.String("addr", cfg.Listen), zap.String("seat", string(seat)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
