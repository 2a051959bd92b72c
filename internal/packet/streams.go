package packet

import (
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/stream"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldName = iota
	fieldURL
	fieldOnline
	fieldQualities
	recordFields
)

const opDecodeStreams = "decode_stream_update"

// DecodeStreamUpdate turns a streams-update payload into a stream set. The
// payload must be a list of [name, url, online, qualities] lists. Any bad
// record fails the whole decode; no partial set is returned.
func DecodeStreamUpdate(payload *structpb.Value) (stream.Set, error) {
	if payload == nil {
		return nil, gerrors.Decode(opDecodeStreams, "payload is empty")
	}

	items, ok := AsList(payload)
	if !ok {
		return nil, gerrors.Decode(opDecodeStreams, "payload is not a list")
	}

	set := make(stream.Set, 0, len(items))
	for i, item := range items {
		fields, ok := AsList(item)
		if !ok {
			return nil, gerrors.Decode(opDecodeStreams, "record %d is not a list", i)
		}
		if len(fields) != recordFields {
			return nil, gerrors.Decode(opDecodeStreams, "record %d has %d fields, want %d", i, len(fields), recordFields)
		}

		name, ok := AsString(fields[fieldName])
		if !ok {
			return nil, gerrors.Decode(opDecodeStreams, "record %d: name is not a string", i)
		}
		url, ok := AsString(fields[fieldURL])
		if !ok {
			return nil, gerrors.Decode(opDecodeStreams, "record %d: url is not a string", i)
		}
		if url == "" {
			return nil, gerrors.Decode(opDecodeStreams, "record %d: url is empty", i)
		}
		online, ok := AsBool(fields[fieldOnline])
		if !ok {
			return nil, gerrors.Decode(opDecodeStreams, "record %d: online is not a boolean", i)
		}
		qualities, ok := AsStringList(fields[fieldQualities])
		if !ok {
			return nil, gerrors.Decode(opDecodeStreams, "record %d: qualities is not a list of strings", i)
		}

		set = append(set, stream.Record{
			Name:      name,
			URL:       url,
			Online:    online,
			Qualities: qualities,
		})
	}

	return set, nil
}

// EncodeStreamUpdate builds the payload DecodeStreamUpdate accepts
func EncodeStreamUpdate(set stream.Set) *structpb.Value {
	items := make([]*structpb.Value, 0, len(set))
	for _, r := range set {
		qualities := make([]*structpb.Value, 0, len(r.Qualities))
		for _, q := range r.Qualities {
			qualities = append(qualities, structpb.NewStringValue(q))
		}
		items = append(items, structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
			structpb.NewStringValue(r.Name),
			structpb.NewStringValue(r.URL),
			structpb.NewBoolValue(r.Online),
			structpb.NewListValue(&structpb.ListValue{Values: qualities}),
		}}))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: items})
}
