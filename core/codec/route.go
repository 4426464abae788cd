package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// SNRScale converts the quarter-dB integers carried in RouteDiscovery
	// SNR arrays to dB.
	SNRScale = 4.0
)

// RouteDiscovery is the payload of PortNumTraceroute packets.
//
// Route lists the node numbers traversed towards the destination and
// RouteBack those traversed on the way back. SNRTowards and SNRBack hold the
// per-hop SNR in quarter-dB units, one entry per link.
type RouteDiscovery struct {
	Route      []uint32
	SNRTowards []int32
	RouteBack  []uint32
	SNRBack    []int32
}

// Marshal encodes the message. An empty RouteDiscovery encodes to zero
// bytes, which is what the initiator of a traceroute sends.
func (r *RouteDiscovery) Marshal() []byte {
	var b []byte
	b = appendPackedFixed32(b, 1, r.Route)
	b = appendPackedInt32(b, 2, r.SNRTowards)
	b = appendPackedFixed32(b, 3, r.RouteBack)
	b = appendPackedInt32(b, 4, r.SNRBack)
	return b
}

// UnmarshalRouteDiscovery decodes a RouteDiscovery payload.
func UnmarshalRouteDiscovery(b []byte) (*RouteDiscovery, error) {
	r := &RouteDiscovery{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeRepeatedFixed32(typ, v, &r.Route), nil
		case 2:
			return consumeRepeatedInt32(typ, v, &r.SNRTowards), nil
		case 3:
			return consumeRepeatedFixed32(typ, v, &r.RouteBack), nil
		case 4:
			return consumeRepeatedInt32(typ, v, &r.SNRBack), nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("route discovery: %w", err)
	}
	return r, nil
}

// SNRTowardsDB returns the forward SNR readings in dB.
func (r *RouteDiscovery) SNRTowardsDB() []float64 {
	return scaleSNR(r.SNRTowards)
}

// SNRBackDB returns the return-path SNR readings in dB.
func (r *RouteDiscovery) SNRBackDB() []float64 {
	return scaleSNR(r.SNRBack)
}

func scaleSNR(raw []int32) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v) / SNRScale
	}
	return out
}
