package core

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// CheckTap verifies name is an existing tun/tap link on the host.
func CheckTap(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("tap %s: %w", name, err)
	}
	if t := link.Type(); t != "tuntap" {
		return fmt.Errorf("tap %s: link type is %s, not tuntap", name, t)
	}
	return nil
}
