package mirror

import (
	"errors"
)

// protocol violations close the channel with a reason code
var ErrMessageTooBig = errors.New("Message too big")
var ErrInvalidMessageType = errors.New("Cannot accept binary frame")

// decode failures drop one inbound message and the session continues
var ErrDecode = errors.New("Failed to decode message")
var ErrUnknownOperation = errors.New("Unknown operation")

// the root graph factory failed. no session is created
var ErrConstruction = errors.New("Failed to create graph")

var ErrTransmit = errors.New("Failed to send queued messages")

var ErrPeerClosed = errors.New("Peer closed")
