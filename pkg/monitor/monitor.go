// Package monitor watches every PC/SC reader on the machine for badge taps.
// It runs a single loop goroutine which owns all reader state, debounces the
// noisy presence events readers emit, and hands each genuine new tap to a
// callback as a live card connection.
package monitor

import (
	"fmt"
	"strings"

	"github.com/ebfe/scard"
	"github.com/rs/zerolog/log"

	"github.com/checkinhq/checkind/pkg/pcsc"
)

// CardHandler is invoked on the monitor goroutine with a connected card each
// time a new tap is detected. The connection is only valid until the handler
// returns; the monitor disconnects it afterwards. Handlers must not block
// indefinitely since they hold up event handling for every reader.
type CardHandler func(card pcsc.Card, reader string, index int)

// ReaderHandler is invoked on the monitor goroutine when a reader is
// attached (true) or removed (false).
type ReaderHandler func(reader string, attached bool)

// Pseudo readers registered by the Windows Hello biometric stack show up in
// ListReaders but never hold cards.
const windowsHello = "Windows Hello"

type Monitor struct {
	establish func() (pcsc.Context, error)
	onCard    CardHandler
	onReader  ReaderHandler

	// loop-owned state, never touched from other goroutines
	states  []scard.ReaderState
	present map[string]bool
}

func New(onCard CardHandler, onReader ReaderHandler) *Monitor {
	return &Monitor{
		establish: pcsc.Establish,
		onCard:    onCard,
		onReader:  onReader,
	}
}

// Handle is the join handle of a running monitor.
type Handle struct {
	done chan struct{}
}

// Wait blocks until the monitor goroutine exits. It never exits under normal
// operation, so Wait effectively parks the calling goroutine.
func (h *Handle) Wait() {
	<-h.done
}

// Start spawns the monitor loop on its own goroutine. Errors the loop cannot
// recover from end the process: they mean the smart card environment itself
// is broken and a restart is the only fix.
func (m *Monitor) Start() *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		if err := m.run(); err != nil {
			log.Fatal().Err(err).Msg("reader monitor stopped")
		}
	}()
	return h
}

func (m *Monitor) run() error {
	ctx, err := m.establish()
	if err != nil {
		return fmt.Errorf("failed to establish context: %w", err)
	}

	// the PnP pseudo reader wakes the wait below on reader attach/detach
	m.states = []scard.ReaderState{{
		Reader:       pcsc.PnpReader,
		CurrentState: scard.StateUnaware,
	}}
	m.present = make(map[string]bool)

	for {
		m.pruneDeadReaders()

		names, err := ctx.ListReaders()
		if err != nil {
			if pcsc.IsServiceStopped(err) {
				// Windows stops the smart card service when the last
				// reader is unplugged, so build a fresh context and
				// wait for the next reader
				ctx, err = m.reestablish(ctx)
				if err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to list readers: %w", err)
		}
		m.addNewReaders(names)

		// move the baseline forward so the wait below only reports
		// changes from the states seen this iteration
		for i := range m.states {
			m.states[i].CurrentState = m.states[i].EventState &^ scard.StateChanged
		}

		err = ctx.GetStatusChange(m.states, -1)
		if err != nil {
			if pcsc.IsServiceStopped(err) {
				ctx, err = m.reestablish(ctx)
				if err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to get status change: %w", err)
		}

		m.dispatchTaps(ctx)
	}
}

func (m *Monitor) reestablish(old pcsc.Context) (pcsc.Context, error) {
	log.Info().Msg("smart card service stopped, re-establishing context")
	_ = old.Release()

	ctx, err := m.establish()
	if err != nil {
		return nil, fmt.Errorf("failed to re-establish context: %w", err)
	}
	return ctx, nil
}

// pruneDeadReaders drops readers the service no longer knows about.
func (m *Monitor) pruneDeadReaders() {
	kept := m.states[:0]
	for _, rs := range m.states {
		if rs.EventState&(scard.StateUnknown|scard.StateIgnore) != 0 {
			log.Debug().Msgf("reader removed: %s", rs.Reader)
			m.onReader(rs.Reader, false)
			continue
		}
		kept = append(kept, rs)
	}
	m.states = kept
}

func (m *Monitor) addNewReaders(names []string) {
	for _, name := range names {
		if m.tracked(name) || strings.Contains(name, windowsHello) {
			continue
		}
		log.Debug().Msgf("reader attached: %s", name)
		m.onReader(name, true)
		m.states = append(m.states, scard.ReaderState{
			Reader:       name,
			CurrentState: scard.StateUnaware,
		})
	}
}

func (m *Monitor) tracked(name string) bool {
	for _, rs := range m.states {
		if rs.Reader == name {
			return true
		}
	}
	return false
}

// dispatchTaps walks the post-wait states and fires the card handler once
// per genuine new tap. A reader reporting present twice without an empty in
// between is the same tap still sitting on the reader.
func (m *Monitor) dispatchTaps(ctx pcsc.Context) {
	for i := range m.states {
		rs := &m.states[i]
		if rs.Reader == pcsc.PnpReader {
			continue
		}

		if rs.EventState&scard.StatePresent != 0 {
			if !m.present[rs.Reader] {
				m.connectAndHandle(ctx, rs.Reader, i)
			}
			m.present[rs.Reader] = true
		} else if rs.EventState&scard.StateEmpty != 0 {
			m.present[rs.Reader] = false
		}
	}
}

// connectAndHandle opens a shared connection to the tapped card and runs the
// handler with it. Connect failures are never fatal: the tag may already be
// gone, or be unreadable, and the next tap is the retry.
func (m *Monitor) connectAndHandle(ctx pcsc.Context, reader string, index int) {
	card, err := ctx.Connect(reader)
	if err != nil {
		if pcsc.IsNoCard(err) {
			log.Info().Msgf("no card present on %s", reader)
		} else {
			log.Error().Err(err).Msgf("failed to connect to card on %s", reader)
		}
		return
	}

	m.onCard(card, reader, index)

	if err := card.Disconnect(); err != nil {
		log.Debug().Err(err).Msgf("failed to disconnect card on %s", reader)
	}
}
