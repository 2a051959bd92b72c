package packet

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func randomSet(r *rand.Rand) stream.Set {
	names := []string{"Alpha", "Ünïcødé", "with space", "", "日本語"}
	qualities := []string{"source", "1080p", "720p", "480p", "audio_only", "best", "worst"}

	set := stream.Set{}
	for i := 0; i < r.Intn(12); i++ {
		rec := stream.Record{
			Name:      names[r.Intn(len(names))],
			URL:       fmt.Sprintf("http://twitch.tv/channel%d", r.Intn(1000)),
			Online:    r.Intn(2) == 0,
			Qualities: []string{},
		}
		for j := 0; j < r.Intn(len(qualities)); j++ {
			rec.Qualities = append(rec.Qualities, qualities[r.Intn(len(qualities))])
		}
		set = append(set, rec)
	}
	return set
}

func TestStreamUpdate_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		set := randomSet(r)

		frame, err := EncodeFrame(TypeStreamsUpdate, EncodeStreamUpdate(set))
		require.NoError(t, err)

		d := NewDecoder(0)
		d.Feed(frame)
		f, ok, err := d.Next()
		require.NoError(t, err)
		require.True(t, ok)

		payload, err := UnmarshalPayload(f.Payload)
		require.NoError(t, err)
		decoded, err := DecodeStreamUpdate(payload)
		require.NoError(t, err)

		require.Len(t, decoded, len(set), "case %d", i)
		for j := range set {
			assert.True(t, set[j].Equal(decoded[j]), "case %d record %d: %+v != %+v", i, j, set[j], decoded[j])
		}
	}
}

func list(values ...*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func str(s string) *structpb.Value { return structpb.NewStringValue(s) }

func TestDecodeStreamUpdate_Coercion(t *testing.T) {
	payload := list(
		list(str("Numeric"), structpb.NewNumberValue(12345), structpb.NewNumberValue(1), list(str("best"), structpb.NewNumberValue(720))),
		list(structpb.NewBoolValue(true), str("http://b"), str("false"), structpb.NewNullValue()),
		list(str("Single"), str("http://c"), str("1"), str("source")),
	)

	set, err := DecodeStreamUpdate(payload)
	require.NoError(t, err)
	require.Len(t, set, 3)

	assert.Equal(t, stream.Record{Name: "Numeric", URL: "12345", Online: true, Qualities: []string{"best", "720"}}, set[0])
	assert.Equal(t, stream.Record{Name: "true", URL: "http://b", Online: false, Qualities: []string{}}, set[1])
	assert.Equal(t, stream.Record{Name: "Single", URL: "http://c", Online: true, Qualities: []string{"source"}}, set[2])
}

func TestDecodeStreamUpdate_EmptyList(t *testing.T) {
	set, err := DecodeStreamUpdate(list())
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestDecodeStreamUpdate_Failures(t *testing.T) {
	good := list(str("A"), str("http://a"), structpb.NewBoolValue(true), list(str("best")))
	obj, err := structpb.NewValue(map[string]interface{}{"name": "x"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload *structpb.Value
	}{
		{"nil payload", nil},
		{"not a list", str("streams")},
		{"struct payload", obj},
		{"record not a list", list(good, str("oops"))},
		{"too few fields", list(good, list(str("B"), str("http://b"), structpb.NewBoolValue(true)))},
		{"too many fields", list(list(str("B"), str("http://b"), structpb.NewBoolValue(true), list(), str("extra")))},
		{"empty record", list(list())},
		{"name is a list", list(list(list(), str("http://b"), structpb.NewBoolValue(true), list()))},
		{"url is null", list(list(str("B"), structpb.NewNullValue(), structpb.NewBoolValue(true), list()))},
		{"url is empty", list(list(str("B"), str(""), structpb.NewBoolValue(true), list()))},
		{"online is garbage", list(list(str("B"), str("http://b"), str("maybe"), list()))},
		{"online is a list", list(list(str("B"), str("http://b"), list(), list()))},
		{"qualities hold a struct", list(list(str("B"), str("http://b"), structpb.NewBoolValue(true), list(obj)))},
		{"qualities is a number", list(list(str("B"), str("http://b"), structpb.NewBoolValue(true), structpb.NewNumberValue(3)))},
		{"malformed record after good ones", list(good, good, list(str("C")))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := DecodeStreamUpdate(tt.payload)
			require.Error(t, err)
			assert.Nil(t, set)
			assert.True(t, errors.Is(err, gerrors.ErrMalformedPayload))
			assert.Equal(t, gerrors.ErrorTypeDecode, gerrors.GetType(err))
		})
	}
}

func TestDecodeStreamUpdate_TruncatedPayloads(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	set := randomSet(r)
	for len(set) < 3 {
		set = randomSet(r)
	}
	raw, err := proto.Marshal(EncodeStreamUpdate(set))
	require.NoError(t, err)

	for cut := 0; cut < len(raw); cut++ {
		assert.NotPanics(t, func() {
			v, err := UnmarshalPayload(raw[:cut])
			if err != nil {
				return
			}
			_, _ = DecodeStreamUpdate(v)
		})
	}
}

func FuzzDecodeStreamUpdate(f *testing.F) {
	seed, err := proto.Marshal(EncodeStreamUpdate(stream.Set{
		{Name: "A", URL: "http://a", Online: true, Qualities: []string{"best", "worst"}},
		{Name: "B", URL: "http://b"},
	}))
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte{0x32, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := UnmarshalPayload(data)
		if err != nil {
			return
		}
		set, err := DecodeStreamUpdate(v)
		if err != nil {
			if set != nil {
				t.Fatalf("partial set returned with error: %v", err)
			}
			return
		}
		for _, r := range set {
			if r.URL == "" {
				t.Fatalf("record with empty url decoded")
			}
		}
	})
}
