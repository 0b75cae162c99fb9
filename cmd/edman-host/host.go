package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/channel"
	"github.com/justapithecus/edman/iox"
	"github.com/justapithecus/edman/ipc"
	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/types"
)

// configTimeout bounds the config exchange with the service.
const configTimeout = 10 * time.Second

// relayDrainTimeout bounds how long answers are still relayed after the
// browser closes stdin.
const relayDrainTimeout = 30 * time.Second

// configRequestID tags the host's own request so its response is not
// mistaken for one the browser is waiting on.
const configRequestID = `"edman-host"`

// dial is replaced in tests.
var dial = channel.Dial

// caller identifies who launched the host.
type caller struct {
	origin    string
	extension string
}

func hostAction(c *cli.Context) error {
	logger := log.NewLogger("host")
	defer iox.DiscardErr(logger.Sync)

	who, err := parseCaller(c.Args().Slice())
	if err != nil {
		return &startupError{err: err}
	}

	address, err := channel.ResolveAddress(c.String("socket"))
	if err != nil {
		return startupFailure("resolve channel address: %w", err)
	}
	return run(who, address, os.Stdin, os.Stdout, logger)
}

// run connects, checks who, and relays until either side closes.
func run(who caller, address string, in io.Reader, out io.Writer, logger *log.Logger) error {
	conn, err := dial(address)
	if err != nil {
		return startupFailure("connect to edman serve: %w", err)
	}

	cfg, err := fetchConfig(conn, configTimeout)
	if err != nil {
		_ = conn.Close()
		return startupFailure("fetch config: %w", err)
	}
	if err := checkCaller(who, cfg); err != nil {
		_ = conn.Close()
		return &startupError{err: err}
	}

	logger.Debug("relay started", map[string]any{"socket": address, "origin": who.origin, "extension": who.extension})
	if err := iox.Relay(in, out, conn, relayDrainTimeout); err != nil {
		logger.Error("relay failed", map[string]any{"error": err.Error()})
		return cli.Exit("", 1)
	}
	return nil
}

// parseCaller reads the browser's arguments. Chrome passes the origin,
// followed on Windows by --parent-window. Firefox passes the manifest
// path and the extension id.
func parseCaller(args []string) (caller, error) {
	args = slices.DeleteFunc(slices.Clone(args), func(a string) bool {
		return strings.HasPrefix(a, "--parent-window")
	})
	switch {
	case len(args) == 0:
		return caller{}, nil
	case strings.HasSuffix(args[0], ".json"):
		if len(args) < 2 || args[1] == "" {
			return caller{}, errors.New("launched with a manifest path but no extension id")
		}
		return caller{extension: args[1]}, nil
	default:
		return caller{origin: args[0]}, nil
	}
}

// checkCaller rejects a caller the service does not allow. Launching
// without arguments is a manual run and is not checked.
func checkCaller(who caller, cfg types.Config) error {
	switch {
	case who.origin != "":
		if !slices.Contains(cfg.AllowedOrigins, who.origin) {
			return fmt.Errorf("origin %q is not allowed", who.origin)
		}
	case who.extension != "":
		if !slices.Contains(cfg.AllowedExtensions, who.extension) {
			return fmt.Errorf("extension %q is not allowed", who.extension)
		}
	}
	return nil
}

type configResponse struct {
	Type types.MessageType `json:"type"`
	Data json.RawMessage   `json:"data"`
}

// fetchConfig sends one config request on conn and decodes the reply.
// conn is closed if the service does not answer within timeout.
func fetchConfig(conn io.ReadWriteCloser, timeout time.Duration) (types.Config, error) {
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		_ = conn.Close()
	})
	defer timer.Stop()

	request := []byte(`{"type":"config","data":{},"id":` + configRequestID + `}`)
	if err := ipc.NewFrameEncoder(conn).WriteFrame(request); err != nil {
		return types.Config{}, timeoutOr(&timedOut, err)
	}
	payload, err := ipc.NewFrameDecoder(conn).ReadFrame()
	if err != nil {
		return types.Config{}, timeoutOr(&timedOut, err)
	}

	var resp configResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return types.Config{}, fmt.Errorf("decode response: %w", err)
	}
	switch resp.Type {
	case types.MessageConfig:
		var cfg types.Config
		if err := json.Unmarshal(resp.Data, &cfg); err != nil {
			return types.Config{}, fmt.Errorf("decode config: %w", err)
		}
		return cfg, nil
	case types.MessageErr:
		var msg string
		_ = json.Unmarshal(resp.Data, &msg)
		return types.Config{}, fmt.Errorf("service error: %s", msg)
	default:
		return types.Config{}, fmt.Errorf("unexpected response type %q", resp.Type)
	}
}

func timeoutOr(timedOut *atomic.Bool, err error) error {
	if timedOut.Load() {
		return errors.New("service did not answer in time")
	}
	return err
}
