package app

import "errors"

var ErrUnknownPeer = errors.New("unknown peer session")
