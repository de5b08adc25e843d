package protocol

import (
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
)

var negotiateLog = logger.GetLogger("protocol")

// ProbeFunc sends the given probe bytes over a live connection and
// verifies the reply decodes as PONG under the candidate codec. It is
// supplied by the transport layer so negotiation stays free of socket
// concerns.
type ProbeFunc func(codec Codec, probe []byte) error

// Negotiator walks an ordered list of candidate codec factories,
// probing each with a PING until one answers. The first candidate whose
// probe succeeds wins; candidates that fail are logged and skipped.
// Negotiation yields a factory, not an instance: the probe instance is
// thrown away with its probe connection, and every later connection
// gets a fresh codec, so stateful codecs never share dictionaries
// across connections.
type Negotiator struct {
	attempts []CodecFactory
}

// NewNegotiator creates a negotiator with an explicit attempt order.
func NewNegotiator(attempts ...CodecFactory) *Negotiator {
	return &Negotiator{attempts: attempts}
}

// DefaultNegotiator returns the stock negotiation policy. The
// experimental codecs are only attempted when explicitly enabled;
// otherwise the attempt list is just the text protocol, so negotiation
// always lands on text.
func DefaultNegotiator(enableExperimental bool) *Negotiator {
	if enableExperimental {
		return NewNegotiator(NewCompactCodec, NewEnvelopeCodec, NewTextCodec)
	}
	return NewNegotiator(NewTextCodec)
}

// Negotiate runs the attempt list in order and returns the factory of
// the first codec that answers the probe. It fails only if every
// attempt fails.
func (n *Negotiator) Negotiate(probe ProbeFunc) (CodecFactory, error) {
	if len(n.attempts) == 0 {
		return nil, fmt.Errorf("negotiation: no candidate codecs")
	}

	var lastErr error
	for _, newCodec := range n.attempts {
		candidate := newCodec()
		ping, err := candidate.EncodeCommand(NewPingCommand())
		if err != nil {
			lastErr = err
			continue
		}

		if err := probe(candidate, ping); err != nil {
			negotiateLog.Debugf("codec %s rejected: %v, falling back", candidate.Name(), err)
			lastErr = err
			continue
		}

		negotiateLog.Infof("negotiated codec %s", candidate.Name())
		return newCodec, nil
	}

	return nil, fmt.Errorf("negotiation failed for all %d candidate codecs: %w", len(n.attempts), lastErr)
}
