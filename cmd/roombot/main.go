// roombot is a headless client for the room synchronization engine. It joins
// a server as a regular player, mirrors room state, and logs everything the
// presentation layer would render. Useful for soak-testing a server and for
// exercising the engine against real network timing.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/diceparlor/engine/internal/conn"
	"github.com/diceparlor/engine/internal/engine"
	"github.com/diceparlor/engine/internal/protocol"
	"github.com/diceparlor/engine/internal/reveal"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	serverURL := flag.String("ws", "", "server websocket url (overrides config)")
	roomID := flag.String("room", "", "room id to rejoin (switches to room mode)")
	userID := flag.String("user", "roombot", "user id to authenticate as")
	username := flag.String("name", "Room Bot", "display name")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *roomID != "" {
		cfg.Mode = engine.ModeRoom
		cfg.RoomID = *roomID
	}
	if cfg.ServerURL == "" {
		log.Fatal().Msg("server url is required (flag -ws, config, or ENGINE_SERVER_URL)")
	}

	identity := protocol.Identity{
		UserID:   *userID,
		Username: *username,
	}

	fatalCh := make(chan error, 1)
	eng, err := engine.New(cfg, identity, clockwork.NewRealClock(), engine.Callbacks{
		OnConnectionState: func(s conn.State) {
			log.Info().Str("state", s.String()).Msg("connection")
		},
		OnRoomUpdated: func() {
			// Rendering would happen here; the bot just traces.
			log.Debug().Msg("room updated")
		},
		OnRoomList: func(rooms []protocol.RoomSummary) {
			for _, r := range rooms {
				log.Info().
					Str("room_id", r.RoomID).
					Str("name", r.RoomName).
					Int("players", r.PlayerCount).
					Int("max", r.MaxPlayers).
					Msg("room available")
			}
		},
		OnReveal: func(item reveal.Item) {
			switch item.Kind {
			case reveal.KindRoll:
				log.Info().Str("player_id", item.Roll.PlayerID).Int("roll", item.Roll.Roll).Msg("rolled")
			case reveal.KindRoundResult:
				log.Info().Int("round", item.Round.Round).Str("winner", item.Round.WinnerID).Msg("round result")
			case reveal.KindGameOver:
				log.Info().Str("winner", item.GameOver.WinnerID).Msg("game over")
			}
		},
		OnChat: func(msg protocol.ChatMessage) {
			log.Info().Str("from", msg.Username).Str("channel", msg.Channel).Msg(msg.Content)
		},
		OnDisconnectCountdown: func(userID string, remaining time.Duration) {
			log.Debug().Str("user_id", userID).Dur("remaining", remaining).Msg("disconnect grace")
		},
		OnRoomClosed: func() {
			log.Warn().Msg("room closed")
		},
		OnRemoved: func(reason string) {
			log.Warn().Str("reason", reason).Msg("removed from room")
		},
		OnError: func(code, message string) {
			log.Warn().Str("code", code).Str("message", message).Msg("server error")
		},
		OnFatal: func(err error) {
			fatalCh <- err
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().Str("url", cfg.ServerURL).Str("mode", string(cfg.Mode)).Msg("roombot starting")
	eng.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-fatalCh:
		log.Error().Err(err).Msg("connectivity lost")
	}

	eng.Stop()
	log.Info().Msg("roombot stopped")
}
