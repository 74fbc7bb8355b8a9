package decoding

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/mnightingale/rapidyenc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/nzbfetch/internal/classify"
	"github.com/datallboy/nzbfetch/internal/domain"
)

func manualCodec(opts ...Option) *Codec {
	return NewCodec(append([]Option{WithStrategies(ManualStrategy{})}, opts...)...)
}

func TestDecodeMinimalBlock(t *testing.T) {
	raw := []byte("=ybegin line=128 size=5 name=test.bin\r\nqwrst\r\n=yend\r\n")
	want := []byte{'q' - 42, 'w' - 42, 'r' - 42, 's' - 42, 't' - 42}

	for name, codec := range map[string]*Codec{"manual": manualCodec(), "default": NewCodec()} {
		t.Run(name, func(t *testing.T) {
			part, err := codec.Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, want, part.Data)
			assert.Equal(t, "test.bin", part.Name)
			assert.Equal(t, int64(5), part.FileSize)
			assert.Equal(t, int64(-1), part.Offset())
			assert.Empty(t, part.Warnings)
		})
	}
}

func TestDecodeEscapeSequence(t *testing.T) {
	// 0xD6+42 wraps to NUL, which encoders escape as "=@"
	raw := []byte("=ybegin line=128 size=1 name=x\r\n=@\r\n=yend size=1\r\n")

	part, err := manualCodec().Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD6}, part.Data)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}

	inputs := [][]byte{
		{},
		{0x00},
		all,
		bytes.Repeat([]byte{0xD6, 0xE0, 0xE3, 0x13, 0xF6, 0x04}, 100),
	}
	for _, n := range []int{1, 127, 128, 129, 4096, 65537} {
		b := make([]byte, n)
		rng.Read(b)
		inputs = append(inputs, b)
	}

	for _, data := range inputs {
		for _, lineLen := range []int{1, 2, 64, 128} {
			encoded := Encode(data, EncodeOptions{Name: "rt.bin", LineLength: lineLen})

			part, err := manualCodec().Decode(encoded)
			require.NoError(t, err, "len=%d line=%d", len(data), lineLen)
			assert.True(t, bytes.Equal(data, part.Data), "len=%d line=%d", len(data), lineLen)
		}
	}
}

func TestRoundTripDefaultStrategies(t *testing.T) {
	data := make([]byte, 10000)
	rand.New(rand.NewSource(7)).Read(data)

	part, err := NewCodec().Decode(Encode(data, EncodeOptions{Name: "rapid.bin"}))
	require.NoError(t, err)
	assert.Equal(t, data, part.Data)
}

func TestDecodesRapidyencEncoderOutput(t *testing.T) {
	payload := []byte{0x00, 0xFF, 0x10, 0x20, 0x7F, 0x80, 0xAA, 0xBB, '.', '='}

	var buf bytes.Buffer
	enc, err := rapidyenc.NewEncoder(&buf, rapidyenc.Meta{
		FileName:   "sample.bin",
		FileSize:   int64(len(payload)),
		PartSize:   int64(len(payload)),
		PartNumber: 1,
		TotalParts: 1,
	})
	require.NoError(t, err)
	_, err = enc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	part, err := manualCodec().Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, part.Data)
	assert.Equal(t, "sample.bin", part.Name)
}

func TestDecodeMultiPartUsesPartRange(t *testing.T) {
	data := []byte("second part of the file")
	encoded := Encode(data, EncodeOptions{Name: "big.bin", FileSize: 1000, Part: 2, Total: 3, Begin: 401})

	part, err := manualCodec().Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, part.Data)
	assert.Equal(t, int64(400), part.Offset())
	assert.Equal(t, int64(401+len(data)-1), part.End)
	assert.Equal(t, 2, part.Number)
	assert.Equal(t, 3, part.Total)
	assert.Equal(t, int64(1000), part.FileSize)
}

func TestWholeFileCRCIgnoredForParts(t *testing.T) {
	data := []byte("partial")
	encoded := Encode(data, EncodeOptions{Name: "p.bin", FileSize: 100, Part: 1, Total: 2, Begin: 1})
	encoded = bytes.Replace(encoded, []byte("\r\n=yend "), []byte("\r\n=yend crc32=deadbeef "), 1)

	part, err := manualCodec().Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, part.Data)
}

func TestDecodeCRCMismatch(t *testing.T) {
	encoded := Encode([]byte("hello world"), EncodeOptions{Name: "c.bin"})
	i := bytes.Index(encoded, []byte("crc32="))
	require.Positive(t, i)
	tampered := append(append([]byte{}, encoded[:i]...), []byte("crc32=00000000\r\n")...)

	_, err := manualCodec().Decode(tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crc32 mismatch")

	info := classify.Classify(err, nil)
	assert.Equal(t, domain.CategoryYencDecoding, info.Category)
	assert.False(t, info.Retriable)
}

func TestDecodeMissingFraming(t *testing.T) {
	_, err := manualCodec().Decode([]byte("just some text\r\nwithout a header\r\n"))
	require.ErrorIs(t, err, ErrHeaderNotFound)
	info := classify.Classify(err, nil)
	assert.Equal(t, domain.CategoryYencDecoding, info.Category)
	assert.Equal(t, domain.SeverityHigh, info.Severity)
	assert.False(t, info.Retriable)

	_, err = manualCodec().Decode([]byte("=ybegin line=128 size=5 name=a\r\nqwrst\r\n"))
	require.ErrorIs(t, err, ErrTrailerNotFound)
}

func TestDecodeRejectsPartBeyondFileSize(t *testing.T) {
	raw := []byte("=ybegin part=2 total=2 line=128 size=10 name=a.bin\r\n" +
		"=ypart begin=4611686018427387904 end=4611686018427387908\r\nqwrst\r\n=yend size=5 part=2\r\n")

	_, err := manualCodec().Decode(raw)
	require.ErrorIs(t, err, ErrPartOutOfRange)
	info := classify.Classify(err, nil)
	assert.Equal(t, domain.CategoryYencDecoding, info.Category)
	assert.Equal(t, domain.SeverityHigh, info.Severity)
	assert.False(t, info.Retriable)

	// the last byte of the file is still in range
	raw = []byte("=ybegin part=2 total=2 line=128 size=10 name=a.bin\r\n" +
		"=ypart begin=6 end=10\r\nqwrst\r\n=yend size=5 part=2\r\n")
	part, err := manualCodec().Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(5), part.Offset())
}

func TestDecodeSizeMismatch(t *testing.T) {
	raw := []byte("=ybegin line=128 size=9 name=short.bin\r\nqwrst\r\n=yend size=9\r\n")

	part, err := manualCodec().Decode(raw)
	require.NoError(t, err)
	assert.Len(t, part.Data, 5)
	require.Len(t, part.Warnings, 1)
	assert.Contains(t, part.Warnings[0], "size mismatch")

	_, err = manualCodec(WithStrict(true)).Decode(raw)
	require.Error(t, err)
	info, ok := domain.InfoOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryYencDecoding, info.Category)
	assert.Equal(t, domain.SeverityHigh, info.Severity)
	assert.False(t, info.Retriable)
}

func TestDecodeNormalizesEscapedNewlines(t *testing.T) {
	raw := []byte(`=ybegin line=128 size=5 name=test.bin\r\nqwrst\r\n=yend size=5\r\n`)
	require.NotContains(t, string(raw), "\n")

	part, err := manualCodec().Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{71, 77, 72, 73, 74}, part.Data)
}

func TestDecodeLFOnlyArticleWithHeaders(t *testing.T) {
	encoded := Encode([]byte("lf only body"), EncodeOptions{Name: "lf.bin"})
	article := "Subject: test\nFrom: poster@example\n\n" + strings.ReplaceAll(string(encoded), "\r\n", "\n")

	for name, codec := range map[string]*Codec{"manual": manualCodec(), "default": NewCodec()} {
		t.Run(name, func(t *testing.T) {
			part, err := codec.Decode([]byte(article))
			require.NoError(t, err)
			assert.Equal(t, "lf only body", string(part.Data))
		})
	}
}

type stubStrategy struct {
	data []byte
	err  error
}

func (stubStrategy) Name() string { return "stub" }

func (s stubStrategy) Decode(*Frame) ([]byte, error) { return s.data, s.err }

func TestStrategyFallback(t *testing.T) {
	data := []byte("fallback payload")
	encoded := Encode(data, EncodeOptions{Name: "f.bin"})

	t.Run("error", func(t *testing.T) {
		c := NewCodec(WithStrategies(stubStrategy{err: errors.New("native decoder unavailable")}, ManualStrategy{}))
		part, err := c.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, data, part.Data)
		assert.Equal(t, "manual", part.Strategy)
	})

	t.Run("corrupt output", func(t *testing.T) {
		c := NewCodec(WithStrategies(stubStrategy{data: []byte("fallback paylo4d")}, ManualStrategy{}))
		part, err := c.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, data, part.Data)
		assert.Equal(t, "manual", part.Strategy)
	})

	t.Run("all fail", func(t *testing.T) {
		c := NewCodec(WithStrategies(stubStrategy{err: errors.New("boom")}))
		_, err := c.Decode(encoded)
		assert.EqualError(t, err, "boom")
	})
}

func TestWireFormStuffsDots(t *testing.T) {
	got := wireForm([]byte("=ybegin line=2 size=1 name=a\n.x\nab\r\n=yend"))

	assert.Equal(t, "=ybegin line=2 size=1 name=a\r\n..x\r\nab\r\n=yend\r\n.\r\n", string(got))
}

func TestNameWithSpaces(t *testing.T) {
	raw := []byte("=ybegin part=1 total=1 line=128 size=5 name=My Holiday Video.mkv\r\n=ypart begin=1 end=5\r\nqwrst\r\n=yend size=5 part=1\r\n")

	part, err := manualCodec().Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "My Holiday Video.mkv", part.Name)
	assert.Equal(t, int64(0), part.Offset())
}
