package connmgr

import "github.com/quorumlayer/valnet/identity"

// UnsupportedTransportError is returned by NetDialer when asked to
// dial a Multiaddress whose Transport it has no socket implementation
// for yet.
type UnsupportedTransportError struct {
	Transport identity.Transport
}

func (e *UnsupportedTransportError) Error() string {
	return "connmgr: unsupported transport: " + e.Transport.String()
}

// noAddressesError describes why runDialer is waiting instead of
// dialing: the peer currently has no known addresses. It is logged at
// debug level and never returned from an exported function.
type noAddressesError struct {
	peer identity.ValidatorId
}

func (e *noAddressesError) Error() string {
	return "connmgr: no known addresses for peer " + e.peer.String()
}
