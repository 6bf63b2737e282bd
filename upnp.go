package lidgren

// PortMapper requests an external port forwarding be opened for this
// peer's bound local port, e.g. via UPnP or NAT-PMP. The library ships
// no concrete implementation — router port mapping is explicitly out
// of scope (spec.md Non-goals); none of the example pack's
// dependencies cover it either, so a host application supplies its own
// collaborator here rather than the library reaching for one.
type PortMapper interface {
	AddPortMapping(externalPort, internalPort int, protocol string, description string) error
	RemovePortMapping(externalPort int, protocol string) error
}
