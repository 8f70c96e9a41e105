package crypto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedEnvelope reports bytes that do not parse as a serialized
// envelope.
var ErrMalformedEnvelope = errors.New("envelope encoding is malformed")

// Serialized envelope field numbers.
const (
	wireFieldVersion     = 1
	wireFieldAlgorithm   = 2
	wireFieldNonce       = 3
	wireFieldCiphertext  = 4
	wireFieldContentHash = 5
	wireFieldRecipient   = 6
)

// Shard sub-record field numbers.
const (
	shardFieldRecipientID  = 1
	shardFieldEphemeralPub = 2
	shardFieldWrapNonce    = 3
	shardFieldWrappedKey   = 4
)

// MarshalEnvelope serializes an envelope for blob storage or an inline
// memo. The layout is proto wire format with frozen field numbers.
func MarshalEnvelope(env Envelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, wireFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Version))
	b = protowire.AppendTag(b, wireFieldAlgorithm, protowire.BytesType)
	b = protowire.AppendString(b, env.Algorithm)
	b = protowire.AppendTag(b, wireFieldNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Nonce)
	b = protowire.AppendTag(b, wireFieldCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Ciphertext)
	b = protowire.AppendTag(b, wireFieldContentHash, protowire.BytesType)
	b = protowire.AppendBytes(b, env.ContentHash)
	for _, shard := range env.Recipients {
		var sub []byte
		sub = protowire.AppendTag(sub, shardFieldRecipientID, protowire.BytesType)
		sub = protowire.AppendBytes(sub, shard.RecipientID)
		sub = protowire.AppendTag(sub, shardFieldEphemeralPub, protowire.BytesType)
		sub = protowire.AppendBytes(sub, shard.EphemeralPublicKey)
		sub = protowire.AppendTag(sub, shardFieldWrapNonce, protowire.BytesType)
		sub = protowire.AppendBytes(sub, shard.WrapNonce)
		sub = protowire.AppendTag(sub, shardFieldWrappedKey, protowire.BytesType)
		sub = protowire.AppendBytes(sub, shard.WrappedFileKey)
		b = protowire.AppendTag(b, wireFieldRecipient, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

// UnmarshalEnvelope parses a serialized envelope. Unknown field numbers
// are skipped so newer envelopes still open.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, wireErr(n)
		}
		data = data[n:]

		switch {
		case num == wireFieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, wireErr(n)
			}
			env.Version = uint32(v)
			data = data[n:]
		case num == wireFieldAlgorithm && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Envelope{}, wireErr(n)
			}
			env.Algorithm = v
			data = data[n:]
		case num == wireFieldNonce && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, wireErr(n)
			}
			env.Nonce = append([]byte(nil), v...)
			data = data[n:]
		case num == wireFieldCiphertext && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, wireErr(n)
			}
			env.Ciphertext = append([]byte(nil), v...)
			data = data[n:]
		case num == wireFieldContentHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, wireErr(n)
			}
			env.ContentHash = append([]byte(nil), v...)
			data = data[n:]
		case num == wireFieldRecipient && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, wireErr(n)
			}
			shard, err := unmarshalShard(v)
			if err != nil {
				return Envelope{}, err
			}
			env.Recipients = append(env.Recipients, shard)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, wireErr(n)
			}
			data = data[n:]
		}
	}
	if len(env.Nonce) == 0 || len(env.Ciphertext) == 0 || len(env.Recipients) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing required fields", ErrMalformedEnvelope)
	}
	return env, nil
}

func unmarshalShard(data []byte) (RecipientShard, error) {
	var shard RecipientShard
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return RecipientShard{}, wireErr(n)
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return RecipientShard{}, wireErr(n)
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return RecipientShard{}, wireErr(n)
		}
		switch num {
		case shardFieldRecipientID:
			shard.RecipientID = append([]byte(nil), v...)
		case shardFieldEphemeralPub:
			shard.EphemeralPublicKey = append([]byte(nil), v...)
		case shardFieldWrapNonce:
			shard.WrapNonce = append([]byte(nil), v...)
		case shardFieldWrappedKey:
			shard.WrappedFileKey = append([]byte(nil), v...)
		}
		data = data[n:]
	}
	if len(shard.RecipientID) != recipientIDSize || len(shard.EphemeralPublicKey) != keySize {
		return RecipientShard{}, fmt.Errorf("%w: bad shard", ErrMalformedEnvelope)
	}
	return shard, nil
}

func wireErr(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
}
