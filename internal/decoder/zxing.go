package decoder

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

var (
	// ErrMalformedFrame is returned for buffers that cannot be a width x height RGBA frame
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrNotFound is returned when no allowed symbol is located in the image
	ErrNotFound = errors.New("no code found")
)

// Symbol is a decoded optical code
type Symbol struct {
	Text      string
	Symbology types.Symbology
	Points    []types.Point
}

// SymbolDecoder locates and decodes one optical code in a grayscale image
type SymbolDecoder interface {
	Decode(img *image.Gray) (Symbol, error)
}

var zxingFormats = map[gozxing.BarcodeFormat]types.Symbology{
	gozxing.BarcodeFormat_QR_CODE:  types.QRCode,
	gozxing.BarcodeFormat_CODE_128: types.Code128,
	gozxing.BarcodeFormat_CODE_39:  types.Code39,
	gozxing.BarcodeFormat_EAN_13:   types.EAN13,
	gozxing.BarcodeFormat_EAN_8:    types.EAN8,
	gozxing.BarcodeFormat_UPC_A:    types.UPCA,
	gozxing.BarcodeFormat_UPC_E:    types.UPCE,
	gozxing.BarcodeFormat_ITF:      types.ITF,
}

type formatReader struct {
	symbology types.Symbology
	reader    gozxing.Reader
}

// ZXing decodes symbols with gozxing, trying one reader per allowed symbology.
// It is not safe for concurrent use; the worker owns exactly one.
type ZXing struct {
	readers []formatReader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXing creates a decoder restricted to the given symbologies
func NewZXing(allowed []types.Symbology) (*ZXing, error) {
	z := &ZXing{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}

	seen := make(map[types.Symbology]bool)
	for _, sym := range allowed {
		if seen[sym] {
			continue
		}
		seen[sym] = true

		r, err := readerFor(sym)
		if err != nil {
			return nil, err
		}
		z.readers = append(z.readers, formatReader{symbology: sym, reader: r})
	}
	if len(z.readers) == 0 {
		return nil, fmt.Errorf("no symbologies allowed")
	}
	return z, nil
}

func readerFor(sym types.Symbology) (gozxing.Reader, error) {
	switch sym {
	case types.QRCode:
		return qrcode.NewQRCodeReader(), nil
	case types.Code128:
		return oned.NewCode128Reader(), nil
	case types.Code39:
		return oned.NewCode39Reader(), nil
	case types.EAN13:
		return oned.NewEAN13Reader(), nil
	case types.EAN8:
		return oned.NewEAN8Reader(), nil
	case types.UPCA:
		return oned.NewUPCAReader(), nil
	case types.UPCE:
		return oned.NewUPCEReader(), nil
	case types.ITF:
		return oned.NewITFReader(), nil
	default:
		return nil, fmt.Errorf("unsupported symbology: %s", sym)
	}
}

// Decode binarizes img with a hybrid binarizer and returns the first symbol any reader finds
func (z *ZXing) Decode(img *image.Gray) (Symbol, error) {
	source := gozxing.NewLuminanceSourceFromImage(img)
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return Symbol{}, fmt.Errorf("failed to binarize frame: %w", err)
	}

	for _, fr := range z.readers {
		result, err := fr.reader.Decode(bitmap, z.hints)
		fr.reader.Reset()
		if err != nil {
			continue
		}

		sym, ok := zxingFormats[result.GetBarcodeFormat()]
		if !ok {
			sym = fr.symbology
		}

		resultPoints := result.GetResultPoints()
		points := make([]types.Point, 0, len(resultPoints))
		for _, p := range resultPoints {
			if p == nil {
				continue
			}
			points = append(points, types.Point{X: p.GetX(), Y: p.GetY()})
		}

		return Symbol{
			Text:      result.GetText(),
			Symbology: sym,
			Points:    points,
		}, nil
	}
	return Symbol{}, ErrNotFound
}
