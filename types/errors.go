package types

import "errors"

// ErrConfiguration marks a launch or call descriptor that cannot be honored:
// a missing required field, a jail id collision, or a host path the chroot
// strategy cannot place inside the jail.
var ErrConfiguration = errors.New("configuration error")
