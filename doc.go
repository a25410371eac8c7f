/*

Package streamchannel provides bidirectional typed message channels: a
single-subscription incoming stream paired with an outgoing typed sink,
together forming one endpoint of a logical connection.

The core abstraction, Channel[T], is intentionally small — Stream() and
Sink() — so that a raw (stream, sink) pair, a guarantee-wrapped pair, and
a multiplexed virtual channel are all the same shape from the caller's
point of view. NewGuaranteeChannel adapts an arbitrary, loosely-behaved
pair into one that satisfies the full lifecycle contract documented on
Channel. The mux and portsink subpackages build concrete transports on
top of that contract.

*/
package streamchannel
