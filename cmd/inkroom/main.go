package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/manpreetbhatti/inkroom/internal/channel"
	"github.com/manpreetbhatti/inkroom/internal/config"
	"github.com/manpreetbhatti/inkroom/internal/discovery"
	"github.com/manpreetbhatti/inkroom/internal/export"
	"github.com/manpreetbhatti/inkroom/internal/logging"
	"github.com/manpreetbhatti/inkroom/internal/session"
)

func main() {
	fs := config.NewClientFlagSet("inkroom")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: inkroom --room ID [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.LoadClient(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inkroom: %v\n", err)
		fs.Usage()
		os.Exit(2)
	}

	logging.Init(cfg.Log)
	logger := logging.L()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("inkroom failed")
	}
}

func run(cfg *config.Client, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := export.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	layout, err := export.ParsePageLayout(cfg.Page)
	if err != nil {
		return err
	}

	var gestures []session.Gesture
	if cfg.Script != "" {
		if gestures, err = readScript(cfg.Script); err != nil {
			return err
		}
	}

	relayURL := cfg.RelayURL
	if cfg.Discover {
		if relayURL, err = discoverRelay(ctx, cfg.DiscoverWait, logger); err != nil {
			return err
		}
	}

	participant := cfg.Participant
	if participant == "" {
		participant = uuid.NewString()
	}

	if cfg.Creator {
		apiURL := cfg.APIURL
		if apiURL == "" {
			if apiURL, err = apiBaseURL(relayURL); err != nil {
				return err
			}
		}
		if err := registerRoom(ctx, apiURL, cfg.Room, participant); err != nil {
			return err
		}
		logger.Info().Str(logging.FieldRoomID, cfg.Room).Msg("Room registered")
	}

	opts := channel.DefaultOptions()
	opts.ParticipantID = participant
	opts.Logger = logger

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()

	conn, err := channel.Dial(dialCtx, relayURL, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Join(dialCtx, cfg.Room); err != nil {
		return fmt.Errorf("join room %s: %w", cfg.Room, err)
	}
	joined, _ := conn.Joined(cfg.Room)

	s := session.New(session.Config{
		RoomID:        cfg.Room,
		ParticipantID: participant,
		IsCreator:     joined.Creator,
		HistoryLimit:  cfg.HistoryLimit,
	}, conn)

	logger.Info().
		Str(logging.FieldRoomID, cfg.Room).
		Str(logging.FieldParticipantID, participant).
		Bool("creator", s.IsCreator()).
		Str("relay", relayURL).
		Msg("Joined room")

	if len(gestures) > 0 && !s.IsCreator() {
		logger.Warn().Msg("Draw authority belongs to another participant, script gestures will be ignored")
	}

	runCtx := ctx
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	err = s.Run(runCtx, feed(runCtx, gestures, cfg.Duration > 0 || len(gestures) == 0))
	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
	case errors.Is(err, channel.ErrClosed):
		logger.Warn().Msg("Relay closed the connection")
	default:
		return err
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := conn.Flush(flushCtx); err != nil && !errors.Is(err, channel.ErrClosed) {
		logger.Warn().Err(err).Msg("Not every op reached the relay")
	}

	logger.Info().
		Int("snapshots", s.History().Len()).
		Int("cursor", s.History().Cursor()).
		Msg("Left room")

	if cfg.Out == "" {
		return nil
	}
	return writeExport(s, cfg.Out, format, layout, logger)
}

// feed plays gestures in order. With hold set the stream stays open until
// ctx ends, so the session keeps receiving.
func feed(ctx context.Context, gestures []session.Gesture, hold bool) <-chan session.Gesture {
	out := make(chan session.Gesture)
	go func() {
		defer close(out)
		for _, g := range gestures {
			select {
			case out <- g:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return out
}

func readScript(path string) ([]session.Gesture, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		r = f
	}
	gestures, err := session.ParseScript(r)
	if err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	return gestures, nil
}

func discoverRelay(ctx context.Context, wait time.Duration, logger zerolog.Logger) (string, error) {
	relays, err := discovery.Browse(ctx, wait)
	if err != nil {
		return "", err
	}
	if len(relays) == 0 {
		return "", fmt.Errorf("no relay found on the local network")
	}
	for _, r := range relays {
		logger.Debug().Str("instance", r.Instance).Str("url", r.URL()).Msg("Found relay")
	}
	return relays[0].URL(), nil
}

// ws://host:8080/ws -> http://host:8080
func apiBaseURL(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

// registerRoom records participant as the room's creator. A room that
// already exists is left as is.
func registerRoom(ctx context.Context, apiURL, roomID, participant string) error {
	body, err := json.Marshal(map[string]string{"id": roomID, "creator_id": participant})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("register room: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		return nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("register room: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}

func writeExport(s *session.Session, path string, format export.Format, layout export.PageLayout, logger zerolog.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := s.Export(f, format, layout); err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.Info().Str("path", path).Str("format", string(format)).Msg("Drawing exported")
	return nil
}
