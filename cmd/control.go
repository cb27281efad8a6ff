// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
	"github.com/Thermoquad/shuttlehub/pkg/netscan"
	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

var (
	controlScan    string
	controlPoll    time.Duration
	controlLogFile string
)

var controlCmd = &cobra.Command{
	Use:   "control [address...]",
	Short: "Interactive TUI for monitoring and commanding a fleet of shuttles",
	Long: `Monitor and command several shuttles from one terminal UI.

Shuttles are taken from the arguments, --address, or found with --scan
(e.g. --scan 192.168.1 probes 192.168.1.1-254 on --port).

Features:
  - Live connection state and heartbeat for every shuttle
  - Telemetry, sensor and statistics readings for the selected shuttle
  - Commands with ACK results (type a command, e.g. "home",
    "move-dist-f 1500", "set max-speed 80" or "clock")
  - Controller log lines and anomalous values in the event log
  - Automatic reconnection with backoff when a shuttle drops off

Tab switches between the shuttle list and the command line. In the list,
'S' sends STOP and 'R' sends RESET_ERROR to the selected shuttle.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVar(&controlScan, "scan", "", "Probe a /24 subnet for shuttles (three octets, e.g. 192.168.1)")
	controlCmd.Flags().DurationVar(&controlPoll, "poll", 2*time.Second, "Heartbeat request interval")
	controlCmd.Flags().StringVar(&controlLogFile, "log-file", "", "Write hub logs to this file (the terminal is taken by the UI)")
}

// fleetLink keeps a set of shuttles connected, reconnecting with backoff, and
// forwards hub events to notify.
type fleetLink struct {
	m      *hub.Manager
	port   int
	notify func(tea.Msg) // may be nil

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	fleet        map[string]bool // addresses to keep connected
	reconnecting map[string]bool
	wg           sync.WaitGroup
}

func runControl(cmd *cobra.Command, args []string) error {
	log := zerolog.Nop()
	if controlLogFile != "" {
		f, err := os.OpenFile(controlLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		if log, err = newLoggerTo(f, logLevel); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dialer, connInfo, addresses, err := controlTargets(ctx, args)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("no shuttles: give addresses, --address or --scan")
	}

	m := hub.New(
		hub.WithDialer(dialer),
		hub.WithConnectTimeout(connectTimeout),
		hub.WithLogger(log),
	)
	defer m.Close()

	link := newFleetLink(ctx, m, shuttlePort)
	p := tea.NewProgram(initialControlModel(link, connInfo, addresses), tea.WithAltScreen(), tea.WithMouseCellMotion())
	link.notify = p.Send

	link.listen(256)
	for _, addr := range addresses {
		link.add(addr)
	}

	_, err = p.Run()
	link.stop()
	m.Close()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// controlTargets resolves the dialer and the list of shuttles
func controlTargets(ctx context.Context, args []string) (transport.Dialer, string, []string, error) {
	addresses := slices.Clone(args)

	if serialPort != "" || wsURL != "" {
		t, err := resolveTarget()
		if err != nil {
			return nil, "", nil, err
		}
		return t.dialer, t.info, []string{t.address}, nil
	}

	if shuttleAddr != "" && !slices.Contains(addresses, shuttleAddr) {
		addresses = append(addresses, shuttleAddr)
	}
	if controlScan != "" {
		fmt.Printf("Scanning %s.1-254 port %d...\n", controlScan, shuttlePort)
		found, err := netscan.Probe(ctx, controlScan, 1, 254, shuttlePort, 500*time.Millisecond)
		if err != nil {
			return nil, "", nil, err
		}
		for _, addr := range found {
			if !slices.Contains(addresses, addr) {
				addresses = append(addresses, addr)
			}
		}
	}
	return &transport.TCPDialer{}, fmt.Sprintf("TCP port %d", shuttlePort), addresses, nil
}

func newFleetLink(ctx context.Context, m *hub.Manager, port int) *fleetLink {
	ctx, cancel := context.WithCancel(ctx)
	return &fleetLink{
		m:            m,
		port:         port,
		ctx:          ctx,
		cancel:       cancel,
		fleet:        make(map[string]bool),
		reconnecting: make(map[string]bool),
	}
}

// add starts connecting to address in the background and keeps it connected
func (l *fleetLink) add(address string) {
	l.mu.Lock()
	l.fleet[address] = true
	l.mu.Unlock()
	l.reconnect(address, 0)
}

// remove disconnects address and stops reconnecting to it
func (l *fleetLink) remove(address string) {
	l.mu.Lock()
	delete(l.fleet, address)
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.m.Disconnect(address)
	}()
}

func (l *fleetLink) stop() {
	l.cancel()
	l.wg.Wait()
}

// listen subscribes to hub events and starts forwarding them
func (l *fleetLink) listen(buffer int, kinds ...hub.EventKind) {
	sub := l.m.Subscribe(buffer, kinds...)
	go l.forward(sub, buffer, kinds)
}

// forward relays hub events to the TUI and schedules reconnects. It must keep
// draining, so anything that waits on the manager runs on its own goroutine.
func (l *fleetLink) forward(sub *hub.Subscription, buffer int, kinds []hub.EventKind) {
	defer func() { sub.Unsubscribe() }()
	for {
		select {
		case ev := <-sub.Events():
			switch e := ev.(type) {
			case hub.DisconnectedEvent:
				if e.Err != nil {
					l.reconnect(e.Address, time.Second)
				}
			case hub.ConnectFailedEvent:
				l.reconnect(e.Address, time.Second)
			}
			if l.notify != nil {
				l.notify(hubEventMsg{ev: ev})
			}
		case <-sub.Done():
			if sub.Err() == nil {
				return
			}
			// Disconnects may have been lost while behind
			sub = l.m.Subscribe(buffer, kinds...)
			l.resync()
		case <-l.ctx.Done():
			return
		}
	}
}

// resync schedules a reconnect for every fleet address the manager no longer tracks
func (l *fleetLink) resync() {
	l.mu.Lock()
	addrs := make([]string, 0, len(l.fleet))
	for addr := range l.fleet {
		addrs = append(addrs, addr)
	}
	l.mu.Unlock()

	for _, addr := range addrs {
		if _, ok := l.m.GetConnection(addr); !ok {
			l.reconnect(addr, time.Second)
		}
	}
}

// reconnect connects to address with exponential backoff starting at delay.
// Only one attempt loop runs per address.
func (l *fleetLink) reconnect(address string, delay time.Duration) {
	l.mu.Lock()
	if !l.fleet[address] || l.reconnecting[address] {
		l.mu.Unlock()
		return
	}
	l.reconnecting[address] = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.reconnecting, address)
			l.mu.Unlock()
		}()

		backoff := delay
		maxBackoff := 30 * time.Second
		for {
			if backoff > 0 {
				select {
				case <-l.ctx.Done():
					return
				case <-time.After(backoff):
				}
			}

			l.mu.Lock()
			wanted := l.fleet[address]
			l.mu.Unlock()
			if !wanted {
				return
			}

			// Failures are also published as ConnectFailedEvent; the loop
			// owns the retry, so forward's reconnect call is a no-op here.
			if err := l.m.Connect(l.ctx, address, l.port); err == nil || l.ctx.Err() != nil {
				return
			}

			backoff = max(backoff*2, time.Second)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

// command sends msg to address and reports the ACK result to the TUI
func (l *fleetLink) command(address string, msg shuttleproto.Message) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		err := l.m.SendCommand(l.ctx, address, msg, ackTimeout)
		return commandResultMsg{
			address: address,
			desc:    shuttleproto.FormatMessage(msg),
			err:     err,
			rtt:     time.Since(start),
		}
	}
}

// poll requests fresh readings from every connected shuttle
func (l *fleetLink) poll(withStats bool) {
	for _, s := range l.m.ListConnections() {
		if s.State != hub.StateConnected {
			continue
		}
		l.m.Send(s.Address, shuttleproto.NewHeartbeatRequest())
		if withStats {
			l.m.Send(s.Address, shuttleproto.NewSensorsRequest())
			l.m.Send(s.Address, shuttleproto.NewStatsRequest())
		}
	}
}
