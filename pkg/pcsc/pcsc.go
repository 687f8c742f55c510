// Package pcsc is a thin boundary over the platform smart card service
// (winscard on Windows, pcsc-lite elsewhere) via ebfe/scard. It exists so the
// monitor and badge packages can be exercised against fakes in tests.
package pcsc

import (
	"errors"
	"time"

	"github.com/ebfe/scard"
)

// PnpReader is the synthetic reader name recognised by the smart card service.
// Waiting on it wakes GetStatusChange when a reader is attached or detached.
const PnpReader = `\\?PnP?\Notification`

type Context interface {
	ListReaders() ([]string, error)
	// GetStatusChange blocks until the state of one of the given readers
	// differs from its CurrentState, writing the new state to EventState.
	// A negative timeout waits forever.
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	// Connect opens a shared-mode connection to the card on the named reader.
	Connect(reader string) (Card, error)
	Release() error
}

type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect() error
}

// Establish opens a new context with the smart card service.
func Establish() (Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return &sysContext{ctx: ctx}, nil
}

type sysContext struct {
	ctx *scard.Context
}

func (c *sysContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *sysContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return c.ctx.GetStatusChange(states, timeout)
}

func (c *sysContext) Connect(reader string) (Card, error) {
	card, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}
	return &sysCard{card: card}, nil
}

func (c *sysContext) Release() error {
	return c.ctx.Release()
}

type sysCard struct {
	card *scard.Card
}

func (c *sysCard) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

func (c *sysCard) Disconnect() error {
	return c.card.Disconnect(scard.LeaveCard)
}

// IsServiceStopped reports whether err means the smart card service itself has
// gone away. Windows stops the service when the last reader is unplugged, so
// this condition is recoverable by establishing a fresh context.
func IsServiceStopped(err error) bool {
	return errors.Is(err, scard.ErrNoService) ||
		errors.Is(err, scard.ErrServiceStopped)
}

// IsNoCard reports whether err means no card was present at connect time.
func IsNoCard(err error) bool {
	return errors.Is(err, scard.ErrNoSmartcard)
}
