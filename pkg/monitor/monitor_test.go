package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/ebfe/scard"

	"github.com/checkinhq/checkind/pkg/pcsc"
)

// errEndTest is returned from a scripted wait to stop the otherwise endless
// monitor loop; it takes the fatal path out of run.
var errEndTest = errors.New("end of script")

type fakeCard struct{}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) { return []byte{0x90, 0x00}, nil }
func (c *fakeCard) Disconnect() error                   { return nil }

// waitStep scripts one GetStatusChange call: mutate the reader states, then
// return err.
type waitStep struct {
	apply func(states []scard.ReaderState)
	err   error
}

type fakeContext struct {
	readers  []string
	listErrs []error
	waits    []waitStep

	listCalls int
	waitCalls int
	connects  int
	released  int
}

func (c *fakeContext) ListReaders() ([]string, error) {
	call := c.listCalls
	c.listCalls++
	if call < len(c.listErrs) && c.listErrs[call] != nil {
		return nil, c.listErrs[call]
	}
	return c.readers, nil
}

func (c *fakeContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	if c.waitCalls >= len(c.waits) {
		return errEndTest
	}
	step := c.waits[c.waitCalls]
	c.waitCalls++
	if step.apply != nil {
		step.apply(states)
	}
	return step.err
}

func (c *fakeContext) Connect(reader string) (pcsc.Card, error) {
	c.connects++
	return &fakeCard{}, nil
}

func (c *fakeContext) Release() error {
	c.released++
	return nil
}

func setState(name string, state scard.StateFlag) func([]scard.ReaderState) {
	return func(states []scard.ReaderState) {
		for i := range states {
			if states[i].Reader == name {
				states[i].EventState = state | scard.StateChanged
			}
		}
	}
}

const testReader = "ACS ACR122U PICC Interface 00 00"

func newTestMonitor(ctx *fakeContext, taps *int, lifecycle *[]string) *Monitor {
	m := New(
		func(card pcsc.Card, reader string, index int) {
			*taps++
		},
		func(reader string, attached bool) {
			if attached {
				*lifecycle = append(*lifecycle, "+"+reader)
			} else {
				*lifecycle = append(*lifecycle, "-"+reader)
			}
		},
	)
	m.establish = func() (pcsc.Context, error) { return ctx, nil }
	return m
}

func TestDebounce(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{testReader},
		waits: []waitStep{
			{apply: setState(testReader, scard.StatePresent)},
			// second present report without an intervening empty
			{apply: setState(testReader, scard.StatePresent | scard.StateInuse)},
		},
	}

	var taps int
	var lifecycle []string
	m := newTestMonitor(ctx, &taps, &lifecycle)

	if err := m.run(); !errors.Is(err, errEndTest) {
		t.Fatalf("expected script end, got %v", err)
	}

	if taps != 1 {
		t.Fatalf("expected 1 tap, got %d", taps)
	}
	if ctx.connects != 1 {
		t.Fatalf("expected 1 connect, got %d", ctx.connects)
	}
	if len(lifecycle) != 1 || lifecycle[0] != "+"+testReader {
		t.Fatalf("unexpected lifecycle events: %v", lifecycle)
	}
}

func TestRetapAfterEmpty(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{testReader},
		waits: []waitStep{
			{apply: setState(testReader, scard.StatePresent)},
			{apply: setState(testReader, scard.StateEmpty)},
			{apply: setState(testReader, scard.StatePresent)},
		},
	}

	var taps int
	var lifecycle []string
	m := newTestMonitor(ctx, &taps, &lifecycle)

	if err := m.run(); !errors.Is(err, errEndTest) {
		t.Fatalf("expected script end, got %v", err)
	}

	if taps != 2 {
		t.Fatalf("expected 2 taps, got %d", taps)
	}
}

func TestServiceStoppedOnWaitRecovers(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{testReader},
		waits: []waitStep{
			{err: scard.ErrServiceStopped},
			{apply: setState(testReader, scard.StatePresent)},
		},
	}

	var taps int
	var lifecycle []string
	var establishes int
	m := newTestMonitor(ctx, &taps, &lifecycle)
	m.establish = func() (pcsc.Context, error) {
		establishes++
		return ctx, nil
	}

	if err := m.run(); !errors.Is(err, errEndTest) {
		t.Fatalf("expected script end, got %v", err)
	}

	if establishes != 2 {
		t.Fatalf("expected context re-establishment, got %d establishes", establishes)
	}
	if ctx.released != 1 {
		t.Fatalf("expected old context release, got %d", ctx.released)
	}
	if taps != 1 {
		t.Fatalf("expected monitoring to resume with 1 tap, got %d", taps)
	}
}

func TestServiceStoppedOnListRecovers(t *testing.T) {
	ctx := &fakeContext{
		readers:  []string{testReader},
		listErrs: []error{scard.ErrNoService},
		waits: []waitStep{
			{apply: setState(testReader, scard.StatePresent)},
		},
	}

	var taps int
	var lifecycle []string
	var establishes int
	m := newTestMonitor(ctx, &taps, &lifecycle)
	m.establish = func() (pcsc.Context, error) {
		establishes++
		return ctx, nil
	}

	if err := m.run(); !errors.Is(err, errEndTest) {
		t.Fatalf("expected script end, got %v", err)
	}

	if establishes != 2 {
		t.Fatalf("expected context re-establishment, got %d establishes", establishes)
	}
	if taps != 1 {
		t.Fatalf("expected monitoring to resume with 1 tap, got %d", taps)
	}
}

func TestOtherWaitErrorIsFatal(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{testReader},
		waits: []waitStep{
			{err: scard.ErrInvalidHandle},
		},
	}

	var taps int
	var lifecycle []string
	m := newTestMonitor(ctx, &taps, &lifecycle)

	if err := m.run(); !errors.Is(err, scard.ErrInvalidHandle) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestReaderRemoval(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{testReader},
		waits: []waitStep{
			{apply: setState(testReader, scard.StateUnknown)},
		},
	}

	var taps int
	var lifecycle []string
	m := newTestMonitor(ctx, &taps, &lifecycle)

	if err := m.run(); !errors.Is(err, errEndTest) {
		t.Fatalf("expected script end, got %v", err)
	}

	// removed on the iteration after the unknown state, then re-added
	// since the fake still lists it
	want := []string{"+" + testReader, "-" + testReader, "+" + testReader}
	if len(lifecycle) != len(want) {
		t.Fatalf("expected %v, got %v", want, lifecycle)
	}
	for i := range want {
		if lifecycle[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, lifecycle)
		}
	}
}

func TestWindowsHelloFiltered(t *testing.T) {
	ctx := &fakeContext{
		readers: []string{testReader, "Windows Hello for Business 1"},
	}

	var taps int
	var lifecycle []string
	m := newTestMonitor(ctx, &taps, &lifecycle)

	if err := m.run(); !errors.Is(err, errEndTest) {
		t.Fatalf("expected script end, got %v", err)
	}

	if len(lifecycle) != 1 || lifecycle[0] != "+"+testReader {
		t.Fatalf("unexpected lifecycle events: %v", lifecycle)
	}
}
