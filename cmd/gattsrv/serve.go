package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/gattsrv/internal/groutine"
	"github.com/srg/gattsrv/pkg/config"
	"github.com/srg/gattsrv/pkg/gatt"
	"github.com/srg/gattsrv/pkg/profile"
	"github.com/srg/gattsrv/pkg/transport"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a device profile to connecting centrals",
	Long: `Serves a GATT device profile and prints every write and subscription change.

Transports:
  l2cap  - LE ATT fixed channel on every local adapter (Linux, needs CAP_NET_ADMIN)
  tcp    - one PDU per line of hex text, one peer per TCP connection
  stdio  - one PDU per line of hex text on stdin/stdout, a single peer

Examples:
  # Serve the built-in profile over TCP
  gattsrv serve

  # Serve a custom profile on the Bluetooth adapter
  gattsrv serve --profile thermometer.yaml --transport l2cap

  # Push a counter to every subscribed characteristic each second
  gattsrv serve --notify-interval 1s`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveNotifyInterval time.Duration

func init() {
	serveCmd.Flags().String("transport", config.TransportTCP, "ATT bearer: l2cap, tcp or stdio")
	serveCmd.Flags().String("addr", "127.0.0.1:7001", "Listen address for the tcp transport")
	serveCmd.Flags().Int("max-mtu", 517, "Largest ATT_MTU accepted in an MTU exchange")
	serveCmd.Flags().DurationVar(&serveNotifyInterval, "notify-interval", 0, "Push a counter to subscribed characteristics at this interval (0 disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p, err := loadProfile(cfg)
	if err != nil {
		return err
	}
	reg, err := p.Registration()
	if err != nil {
		return err
	}
	logger := configureLogger(cmd, cfg)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	l, err := listen(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := gatt.NewServer(l, reg, cfg.ConnectionOptions(), logger)
	defer srv.Close()

	out := &eventPrinter{w: cmd.OutOrStdout()}
	if cfg.Transport.Kind == config.TransportStdio {
		out.w = cmd.ErrOrStderr()
	}
	return srv.Serve(ctx, connectionHandler(out, pushTargets(p), serveNotifyInterval, logger))
}

// loadProfile returns the configured profile, or the built-in one.
func loadProfile(cfg *config.Config) (*profile.Profile, error) {
	if cfg.Profile == "" {
		return profile.Default(), nil
	}
	return profile.Load(cfg.Profile)
}

func listen(cfg *config.Config) (transport.Listener, error) {
	switch cfg.Transport.Kind {
	case config.TransportL2CAP:
		return transport.ListenL2CAP()
	case config.TransportTCP:
		return transport.ListenTCP(cfg.Transport.Address)
	case config.TransportStdio:
		conn := transport.NewLineConn(stdio{Reader: os.Stdin, Writer: os.Stdout}, transport.Addr{Net: "stdio", Name: "stdio"})
		return transport.NewSingleListener(conn), nil
	}
	return nil, fmt.Errorf("%w: unknown transport.kind %q", config.ErrInvalidConfig, cfg.Transport.Kind)
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return os.Stdin.Close() }

// pushTarget is a tokenized characteristic the server can push to.
type pushTarget struct {
	token string
	props gatt.Property
}

// pushTargets lists notify or indicate capable tokens in profile order.
func pushTargets(p *profile.Profile) []pushTarget {
	var targets []pushTarget
	for pair := p.Tokens().Oldest(); pair != nil; pair = pair.Next() {
		props, err := gatt.ParseProperties(pair.Value.Properties)
		if err != nil || props&(gatt.PropNotify|gatt.PropIndicate) == 0 {
			continue
		}
		targets = append(targets, pushTarget{token: pair.Key, props: props})
	}
	return targets
}

func connectionHandler(out *eventPrinter, targets []pushTarget, interval time.Duration, logger *logrus.Logger) gatt.Handler[string] {
	return func(ctx context.Context, c *gatt.Connection[string]) {
		remote := c.RemoteAddr().String()
		if interval > 0 && len(targets) > 0 {
			groutine.Go(ctx, "notify-demo:"+remote, func(ctx context.Context) {
				pushCounter(ctx, c, targets, interval, logger.WithField("remote", remote))
			})
		}
		for e := range c.Events() {
			out.print(remote, e)
		}
	}
}

// pushCounter sends an incrementing little-endian counter to every subscribed target,
// preferring indications when the peer enabled both.
func pushCounter(ctx context.Context, c *gatt.Connection[string], targets []pushTarget, interval time.Duration, logger *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var counter uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
		}

		counter++
		value := binary.LittleEndian.AppendUint32(nil, counter)
		for _, t := range targets {
			sub, err := c.Subscription(t.token)
			if err != nil {
				continue
			}
			switch {
			case sub.Indicate && t.props&gatt.PropIndicate != 0:
				err = c.Outgoing().IndicateContext(ctx, t.token, value)
			case sub.Notify && t.props&gatt.PropNotify != 0:
				err = c.Outgoing().NotifyContext(ctx, t.token, value)
			default:
				continue
			}

			switch {
			case err == nil:
				logger.WithField("token", t.token).Tracef("Pushed counter %d", counter)
			case errors.Is(err, gatt.ErrConnectionClosed), ctx.Err() != nil:
				return
			case errors.Is(err, gatt.ErrIndicationQueueFull), errors.Is(err, gatt.ErrNotSubscribed):
				logger.WithError(err).Debug("Counter skipped")
			default:
				logger.WithError(err).Warn("Counter push failed")
			}
		}
	}
}

var (
	remoteColor       = color.New(color.Faint)
	writeColor        = color.New(color.FgGreen)
	subscriptionColor = color.New(color.FgCyan)
)

// eventPrinter serializes event lines of concurrent connections.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) print(remote string, e gatt.Event[string]) {
	c := writeColor
	if e.Kind == gatt.EventSubscription {
		c = subscriptionColor
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "%s %s\n", remoteColor.Sprintf("[%s]", remote), c.Sprint(e.String()))
}
