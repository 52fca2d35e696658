package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattsrv/internal/testutils"
	"github.com/srg/gattsrv/pkg/att"
	"github.com/srg/gattsrv/pkg/config"
	"github.com/srg/gattsrv/pkg/gatt"
	"github.com/srg/gattsrv/pkg/profile"
	"github.com/srg/gattsrv/pkg/transport"
)

// execute runs rootCmd with args and fresh flag values.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDump(t *testing.T) {
	out, err := execute(t, "dump")
	require.NoError(t, err)

	assert.Contains(t, out, "gattsrv: ")
	assert.Contains(t, out, "0x0001  primary service")
	assert.Contains(t, out, "2A19 Battery Level")
	assert.Contains(t, out, "token battery")
}

func TestDump_YAML(t *testing.T) {
	out, err := execute(t, "dump", "--yaml")
	require.NoError(t, err)

	p, err := profile.Parse([]byte(out))
	require.NoError(t, err, "dumped YAML MUST parse as a profile")
	assert.Equal(t, profile.Default(), p)
}

func TestDump_CustomProfile(t *testing.T) {
	path := writeFile(t, "thermo.yaml", `
name: thermo
services:
  - uuid: "1809"
    characteristics:
      - uuid: "2A1C"
        token: temperature
        properties: indicate
`)
	out, err := execute(t, "dump", "--profile", path)
	require.NoError(t, err)
	assert.Contains(t, out, "thermo: 4 attributes, 1 services")
	assert.Contains(t, out, "token temperature")

	bad := writeFile(t, "bad.yaml", "services:\n  - uuid: nope\n")
	_, err = execute(t, "dump", "--profile", bad)
	assert.ErrorIs(t, err, profile.ErrInvalidProfile)
}

func TestServe_InvalidSettings(t *testing.T) {
	_, err := execute(t, "serve", "--transport", "carrier-pigeon")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "serve", "--max-mtu", "10")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfgPath := writeFile(t, "gattsrv.yaml", "log_level: chatty\n")
	_, err = execute(t, "serve", "--config", cfgPath)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	cfgPath := writeFile(t, "gattsrv.yaml", `
log_level: warn
server_max_mtu: 100
transport:
  kind: stdio
`)
	resetFlags(rootCmd)
	require.NoError(t, serveCmd.ParseFlags([]string{"--config", cfgPath, "--max-mtu", "64", "--addr", "0.0.0.0:9"}))

	cfg, err := loadConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel, "file value MUST survive when the flag is not set")
	assert.Equal(t, 64, cfg.ServerMaxMTU, "explicit flag MUST override the file")
	assert.Equal(t, config.TransportStdio, cfg.Transport.Kind)
	assert.Equal(t, "0.0.0.0:9", cfg.Transport.Address)
}

func TestListen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Address = "127.0.0.1:0"

	l, err := listen(cfg)
	require.NoError(t, err)
	assert.Equal(t, "tcp", l.Addr().Network())
	require.NoError(t, l.Close())

	cfg.Transport.Kind = "bogus"
	_, err = listen(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestPushTargets(t *testing.T) {
	targets := pushTargets(profile.Default())

	var tokens []string
	for _, target := range targets {
		tokens = append(tokens, target.token)
	}
	assert.Equal(t, []string{"service-changed", "battery", "tx"}, tokens, "only notify or indicate tokens MUST be targeted, in profile order")
}

func TestConnectionHandler(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	server, central := helper.Connect()

	p := profile.Default()
	reg, err := p.Registration()
	require.NoError(t, err)
	db, tokens := reg.Build()
	tx, _ := tokens.Handle("tx")
	rx, _ := tokens.Handle("rx")

	c := gatt.NewConnection(server, db.Clone(), tokens, gatt.DefaultOptions(), helper.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	var out bytes.Buffer
	handled := make(chan struct{})
	go func() {
		defer close(handled)
		connectionHandler(&eventPrinter{w: &out}, pushTargets(p), 10*time.Millisecond, helper.Logger)(ctx, c)
	}()

	// GOAL: Verify the serve handler pushes the counter once the peer subscribes and prints events
	//
	// TEST SCENARIO: subscribe to tx → counter notification arrives → write rx → event printed

	resp := central.Request(&att.WriteRequest{Handle: tx + 1, Value: []byte{0x01, 0x00}})
	require.IsType(t, &att.WriteResponse{}, resp)

	n := testutils.ExpectAs[*att.HandleValueNotification](central)
	assert.Equal(t, tx, n.Handle, "counter MUST go to the subscribed characteristic")
	assert.Len(t, n.Value, 4, "counter MUST be 4 octets")

	// Further counters may arrive ahead of the response.
	central.Send(&att.WriteRequest{Handle: rx, Value: []byte("hi")})
	for {
		resp = central.Expect()
		if _, ok := resp.(*att.HandleValueNotification); !ok {
			break
		}
	}
	require.IsType(t, &att.WriteResponse{}, resp)

	cancel()
	select {
	case <-handled:
	case <-time.After(testutils.DefaultExpectTimeout):
		require.FailNow(t, "handler MUST return once the connection closes")
	}

	assert.Contains(t, out.String(), fmt.Sprintf("subscription tx (0x%04X) notify=true indicate=false", tx))
	assert.Contains(t, out.String(), fmt.Sprintf("write rx (0x%04X) = 68 69", rx))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		err      error
		contains string
	}{
		{fmt.Errorf("listen: %w", transport.ErrUnsupported), "use --transport tcp or stdio"},
		{fmt.Errorf("%w: bad", config.ErrInvalidConfig), "gattsrv serve --help"},
		{fmt.Errorf("%w: bad", profile.ErrInvalidProfile), "gattsrv dump --yaml"},
		{gatt.ErrTransactionTimeout, "stopped confirming"},
		{errors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
