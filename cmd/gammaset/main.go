//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/gammactl/internal/gamma"
	"github.com/danmuck/gammactl/internal/logging"
	"github.com/danmuck/gammactl/internal/ramp"
	"github.com/danmuck/gammactl/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

var ErrControlFailed = errors.New("gammaset: gamma control failed")

type options struct {
	socket      string
	output      string
	temperature int
	brightness  float64
	file        string
	attempts    int
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gammaset: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	flags := flag.NewFlagSet("gammaset", flag.ContinueOnError)
	flags.StringVar(&o.socket, "socket", transport.DefaultConfig().SocketPath, "gammactl socket path")
	flags.StringVar(&o.output, "output", "", "output name")
	flags.IntVar(&o.temperature, "temperature", 6500, "color temperature in kelvin")
	flags.Float64Var(&o.brightness, "brightness", 1.0, "brightness 0..1")
	flags.StringVar(&o.file, "file", "", "raw ramp file (R, G, B uint16 blocks); overrides -temperature/-brightness")
	flags.IntVar(&o.attempts, "attempts", 10, "connect attempts (0 retries forever)")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	o.output = strings.TrimSpace(o.output)
	if o.output == "" {
		return options{}, errors.New("-output is required")
	}
	if o.brightness < 0 || o.brightness > 1 {
		return options{}, fmt.Errorf("-brightness %v out of range 0..1", o.brightness)
	}
	return o, nil
}

func run(args []string) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := transport.DefaultConfig()
	c, err := transport.DialWithBackoff(ctx, o.socket, cfg.Backoff, o.attempts)
	if err != nil {
		return err
	}
	defer c.Close()

	mgr, err := c.Bind(gamma.ManagerInterface, gamma.ManagerVersion)
	if err != nil {
		return err
	}
	ctl, err := c.GetGammaControl(mgr, o.output)
	if err != nil {
		return err
	}

	events := make(chan transport.Envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			e, err := c.Next(context.Background())
			if err != nil {
				readErr <- err
				return
			}
			events <- e
		}
	}()

	applied := false
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("output", o.output).Msg("releasing gamma control")
			_ = c.Destroy(ctl)
			_ = c.Destroy(mgr)
			return nil
		case err := <-readErr:
			return err
		case e := <-events:
			if e.Object != ctl {
				continue
			}
			switch e.Type {
			case transport.TypeGammaSize:
				if applied {
					continue
				}
				if err := apply(c, ctl, e.Size, o); err != nil {
					return err
				}
				applied = true
				log.Info().
					Str("output", o.output).
					Uint32("gamma_size", e.Size).
					Int("temperature", o.temperature).
					Float64("brightness", o.brightness).
					Msg("gamma applied; holding control until interrupted")
			case transport.TypeFailed:
				return fmt.Errorf("%w on output %q", ErrControlFailed, o.output)
			}
		}
	}
}

func apply(c *transport.Client, ctl, size uint32, o options) error {
	raw, err := rampBytes(size, o)
	if err != nil {
		return err
	}
	fd, err := transport.NewRampFile(raw)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return c.SetGamma(ctl, fd)
}

func rampBytes(size uint32, o options) ([]byte, error) {
	if o.file != "" {
		raw, err := os.ReadFile(o.file)
		if err != nil {
			return nil, fmt.Errorf("read ramp file: %w", err)
		}
		if want := int(size) * 3 * ramp.SampleWidth; len(raw) != want {
			return nil, fmt.Errorf("ramp file %s has %d bytes, output expects %d", o.file, len(raw), want)
		}
		return raw, nil
	}
	r, err := ramp.Build(int(size), ramp.WhitePointFromKelvin(o.temperature), o.brightness)
	if err != nil {
		return nil, err
	}
	return ramp.Encode(r)
}
