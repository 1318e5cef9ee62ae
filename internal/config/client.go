package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/manpreetbhatti/inkroom/internal/logging"
)

type Client struct {
	RelayURL     string
	APIURL       string
	Room         string
	Participant  string
	Creator      bool
	Script       string
	Out          string
	Format       string
	Page         string
	Duration     time.Duration
	Discover     bool
	DiscoverWait time.Duration
	HistoryLimit int
	Log          logging.Config
}

// flag name -> config key
var clientFlagKeys = map[string]string{
	"relay":         "relay.url",
	"api":           "relay.api_url",
	"room":          "room",
	"participant":   "participant",
	"creator":       "creator",
	"script":        "script",
	"out":           "out",
	"format":        "format",
	"page":          "page",
	"duration":      "duration",
	"discover":      "discover",
	"discover-wait": "discover_wait",
	"history-limit": "history.limit",
	"log-level":     "log.level",
	"log-pretty":    "log.pretty",
}

// NewClientFlagSet defines the inkroom client's flags.
func NewClientFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("relay", "r", "ws://localhost:8080/ws", "relay websocket URL")
	fs.String("api", "", "relay HTTP API base URL (derived from --relay when empty)")
	fs.String("room", "", "room to join")
	fs.StringP("participant", "p", "", "participant id (generated when empty)")
	fs.Bool("creator", false, "register the room with this participant as creator before joining")
	fs.StringP("script", "s", "", "JSON-lines gesture script to play (\"-\" for stdin)")
	fs.StringP("out", "o", "", "write the final drawing to this file")
	fs.StringP("format", "f", "png", "export format: png or pdf")
	fs.String("page", "fixed", "pdf page layout: fixed or aspect")
	fs.DurationP("duration", "d", 0, "how long to stay in the room (0 waits for the script or an interrupt)")
	fs.Bool("discover", false, "find a relay on the local network over mDNS")
	fs.Duration("discover-wait", 2*time.Second, "how long to browse for relays")
	fs.Int("history-limit", 0, "maximum undo snapshots kept (0 keeps all)")
	fs.String("log-level", "info", "log level")
	fs.Bool("log-pretty", true, "human readable logs")
	return fs
}

// LoadClient resolves client settings from flags, the environment and an
// optional inkroom.yaml, in that order of precedence.
func LoadClient(flags *pflag.FlagSet) (*Client, error) {
	v, err := Load("./config", "inkroom")
	if err != nil {
		return nil, err
	}
	return unmarshalClient(v, flags)
}

func unmarshalClient(v *viper.Viper, flags *pflag.FlagSet) (*Client, error) {
	v.SetDefault("relay.url", "ws://localhost:8080/ws")
	v.SetDefault("format", "png")
	v.SetDefault("page", "fixed")
	v.SetDefault("duration", "0s")
	v.SetDefault("discover_wait", "2s")
	v.SetDefault("history.limit", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.service_name", "inkroom")

	v.BindEnv("relay.url", "INKROOM_RELAY")
	v.BindEnv("participant", "INKROOM_PARTICIPANT")

	if flags != nil {
		for name, key := range clientFlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Client{
		RelayURL:     v.GetString("relay.url"),
		APIURL:       v.GetString("relay.api_url"),
		Room:         v.GetString("room"),
		Participant:  v.GetString("participant"),
		Creator:      v.GetBool("creator"),
		Script:       v.GetString("script"),
		Out:          v.GetString("out"),
		Format:       v.GetString("format"),
		Page:         v.GetString("page"),
		Duration:     parseDuration(v, "duration", 0),
		Discover:     v.GetBool("discover"),
		DiscoverWait: parseDuration(v, "discover_wait", 2*time.Second),
		HistoryLimit: v.GetInt("history.limit"),
		Log: logging.Config{
			Level:       v.GetString("log.level"),
			Pretty:      v.GetBool("log.pretty"),
			ServiceName: v.GetString("log.service_name"),
		},
	}

	if cfg.Room == "" {
		return nil, fmt.Errorf("a room is required")
	}
	return cfg, nil
}
