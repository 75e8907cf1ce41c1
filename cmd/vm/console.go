package vm

import (
	"fmt"
	"os"
)

// guestConsole is the pair of pipes carrying the VMM's serial console. The
// vmm ends are handed to the child and closed here once it has started.
type guestConsole struct {
	in     *os.File // write end, feeds VMM stdin
	out    *os.File // read end, drains VMM stdout
	vmmIn  *os.File
	vmmOut *os.File
}

func newGuestConsole() (*guestConsole, error) {
	vmmIn, in, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("console pipe: %w", err)
	}
	out, vmmOut, err := os.Pipe()
	if err != nil {
		_ = vmmIn.Close()
		_ = in.Close()
		return nil, fmt.Errorf("console pipe: %w", err)
	}
	return &guestConsole{in: in, out: out, vmmIn: vmmIn, vmmOut: vmmOut}, nil
}

func (g *guestConsole) releaseVMMEnds() {
	if g == nil {
		return
	}
	for _, f := range []*os.File{g.vmmIn, g.vmmOut} {
		if f != nil {
			_ = f.Close()
		}
	}
	g.vmmIn, g.vmmOut = nil, nil
}

func (g *guestConsole) close() {
	if g == nil {
		return
	}
	g.releaseVMMEnds()
	_ = g.in.Close()
	_ = g.out.Close()
}
