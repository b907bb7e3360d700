package configuration

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// AckPolicy decides when a consumed message is acknowledged to the broker.
type AckPolicy string

const (
	// AckOnBuffer acknowledges a message as soon as its record is in the buffer. A crash before the
	// next flush loses the buffered records.
	AckOnBuffer AckPolicy = "onBuffer"
	// AckOnStore acknowledges a message only once the batch holding its record has been stored. A
	// batch that fails to store is negatively acknowledged so the broker redelivers it.
	AckOnStore AckPolicy = "onStore"
)

var ackPolicies = map[string]AckPolicy{
	strings.ToLower(string(AckOnBuffer)): AckOnBuffer,
	strings.ToLower(string(AckOnStore)):  AckOnStore,
}

func (p *AckPolicy) UnmarshalText(text []byte) error {
	policy, ok := ackPolicies[strings.ToLower(string(text))]
	if !ok {
		valid := maps.Values(ackPolicies)
		slices.Sort(valid)
		return errors.Errorf("unknown ack policy %q, must be one of %v", text, valid)
	}
	*p = policy
	return nil
}

func (p AckPolicy) IsValid() bool {
	return p == AckOnBuffer || p == AckOnStore
}
