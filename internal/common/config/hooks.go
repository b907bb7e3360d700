package config

import (
	"reflect"
	"strings"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		PulsarSubscriptionTypeHookFunc(),
		PulsarCompressionTypeHookFunc(),
	)),
}

var subscriptionTypes = map[string]pulsar.SubscriptionType{
	"exclusive": pulsar.Exclusive,
	"shared":    pulsar.Shared,
	"failover":  pulsar.Failover,
	"keyshared": pulsar.KeyShared,
}

// ParsePulsarSubscriptionType maps a case-insensitive subscription name such as "Shared" or
// "key_shared" onto the pulsar enum.
func ParsePulsarSubscriptionType(s string) (pulsar.SubscriptionType, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(s))
	if t, ok := subscriptionTypes[key]; ok {
		return t, nil
	}
	return pulsar.Exclusive, errors.Errorf("unknown pulsar subscription type %q", s)
}

func PulsarSubscriptionTypeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(pulsar.Shared) {
			return data, nil
		}
		return ParsePulsarSubscriptionType(data.(string))
	}
}

var compressionTypes = map[string]pulsar.CompressionType{
	"":     pulsar.NoCompression,
	"none": pulsar.NoCompression,
	"lz4":  pulsar.LZ4,
	"zlib": pulsar.ZLib,
	"zstd": pulsar.ZSTD,
}

// ParsePulsarCompressionType maps a case-insensitive compression name onto the pulsar enum. An
// empty string means no compression.
func ParsePulsarCompressionType(s string) (pulsar.CompressionType, error) {
	if t, ok := compressionTypes[strings.ToLower(s)]; ok {
		return t, nil
	}
	return pulsar.NoCompression, errors.Errorf("unknown pulsar compression type %q", s)
}

func PulsarCompressionTypeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(pulsar.NoCompression) {
			return data, nil
		}
		return ParsePulsarCompressionType(data.(string))
	}
}
