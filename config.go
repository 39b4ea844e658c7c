package main

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
	"time"

	"deedles.dev/booth/backend"
	"deedles.dev/booth/internal/xkb"
	"deedles.dev/booth/output"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var errNoCommand = errors.New("no command given")

// Config is everything that can be set from the command line or the
// environment.
type Config struct {
	Backend  backend.Kind
	LogLevel logrus.Level
	Socket   string

	Width, Height int

	Background  color.NRGBA
	RepeatRate  int32
	RepeatDelay time.Duration
	HideCursor  bool

	XKB     xkb.Names
	Outputs []output.Config

	// Command is the kiosk client and its arguments.
	Command []string
}

func addFlags(flags *pflag.FlagSet) {
	flags.String("backend", "auto", "backend to use: auto, windowed, or native")
	flags.String("log-level", "info", "minimum level of log messages")
	flags.String("socket", "", "name of the Wayland socket (default: first free wayland-N)")
	flags.Int("width", 1280, "width of the window of the windowed backend")
	flags.Int("height", 720, "height of the window of the windowed backend")
	flags.String("background", "#000000", "colour shown where nothing is drawn")
	flags.Int32("repeat-rate", 25, "key repeat rate in characters per second")
	flags.Duration("repeat-delay", 200*time.Millisecond, "delay before keys start repeating")
	flags.Bool("hide-cursor", false, "never draw the pointer")
	flags.StringSlice("output", nil, "output configuration as NAME[=WIDTHxHEIGHT][,TRANSFORM]")

	defaults := xkb.NamesFromEnv()
	flags.String("xkb-rules", defaults.Rules, "XKB rules")
	flags.String("xkb-model", defaults.Model, "XKB model")
	flags.String("xkb-layout", defaults.Layout, "XKB layout")
	flags.String("xkb-variant", defaults.Variant, "XKB variant")
	flags.String("xkb-options", defaults.Options, "XKB options")
}

// newViper returns a viper instance that reads the given flags,
// falling back to BOOTH_* environment variables.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("booth")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	err := v.BindPFlags(flags)
	if err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return v, nil
}

func loadConfig(v *viper.Viper, args []string) (Config, error) {
	if len(args) == 0 {
		return Config{}, errNoCommand
	}

	kind, err := backend.ParseKind(v.GetString("backend"))
	if err != nil {
		return Config{}, err
	}

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return Config{}, err
	}

	bg, err := parseColor(v.GetString("background"))
	if err != nil {
		return Config{}, err
	}

	var outputs []output.Config
	for _, str := range v.GetStringSlice("output") {
		c, err := output.ParseConfig(str)
		if err != nil {
			return Config{}, err
		}
		outputs = append(outputs, c)
	}

	config := Config{
		Backend:     kind,
		LogLevel:    level,
		Socket:      v.GetString("socket"),
		Width:       v.GetInt("width"),
		Height:      v.GetInt("height"),
		Background:  bg,
		RepeatRate:  v.GetInt32("repeat-rate"),
		RepeatDelay: v.GetDuration("repeat-delay"),
		HideCursor:  v.GetBool("hide-cursor"),
		XKB: xkb.Names{
			Rules:   v.GetString("xkb-rules"),
			Model:   v.GetString("xkb-model"),
			Layout:  v.GetString("xkb-layout"),
			Variant: v.GetString("xkb-variant"),
			Options: v.GetString("xkb-options"),
		},
		Outputs: outputs,
		Command: args,
	}

	if config.Width <= 0 || config.Height <= 0 {
		return Config{}, fmt.Errorf("invalid window size %vx%v", config.Width, config.Height)
	}
	if config.RepeatRate < 0 || config.RepeatDelay < 0 {
		return Config{}, errors.New("key repeat rate and delay must not be negative")
	}

	return config, nil
}
