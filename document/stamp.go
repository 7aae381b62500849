package document

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ErrRender wraps image decode and PDF mutation failures.
var ErrRender = errors.New("document: render failed")

// Stamper places a captured signature image and the signing date onto the
// last page of an existing contract PDF.
type Stamper struct {
	conf *model.Configuration
}

func NewStamper() *Stamper {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Stamper{conf: conf}
}

// Stamp decodes the signature from its data URL, computes placement for the
// document's last page and returns the re-serialized PDF.
func (s *Stamper) Stamp(pdf []byte, signatureDataURL string, signedAt time.Time) ([]byte, error) {
	imgBytes, imgW, imgH, err := decodeSignatureImage(signatureDataURL)
	if err != nil {
		return nil, err
	}

	pageCount, err := api.PageCount(bytes.NewReader(pdf), s.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: page count: %v", ErrRender, err)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("%w: document has no pages", ErrRender)
	}

	p := ComputePlacement(pageCount, imgW, imgH)
	lastPage := []string{strconv.Itoa(pageCount)}
	scale := ScaleToFit(imgW, imgH, sigBoxMaxWPt, sigBoxMaxHPt)

	imgDesc := fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:%.4f abs, rot:0", p.SigX, p.SigY, scale)
	imgWM, err := api.ImageWatermarkForReader(bytes.NewReader(imgBytes), imgDesc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("%w: build image stamp: %v", ErrRender, err)
	}

	var stamped bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(pdf), &stamped, lastPage, imgWM, s.conf); err != nil {
		return nil, fmt.Errorf("%w: stamp signature: %v", ErrRender, err)
	}

	dateText := "Signed on " + signedAt.Format("January 2, 2006")
	dateDesc := fmt.Sprintf("font:Helvetica, points:10, scale:1 abs, pos:bl, off:%.2f %.2f, fillc:#000000, rot:0", p.DateX, p.DateY)
	dateWM, err := api.TextWatermark(dateText, dateDesc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("%w: build date stamp: %v", ErrRender, err)
	}

	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(stamped.Bytes()), &out, lastPage, dateWM, s.conf); err != nil {
		return nil, fmt.Errorf("%w: stamp date: %v", ErrRender, err)
	}

	return out.Bytes(), nil
}

// decodeSignatureImage extracts the raw bytes and pixel dimensions from a
// data URL. Only PNG and JPEG are accepted; anything else is a render error.
func decodeSignatureImage(dataURL string) ([]byte, float64, float64, error) {
	mime, payload, ok := strings.Cut(strings.TrimPrefix(dataURL, "data:"), ";base64,")
	if !ok || !strings.HasPrefix(dataURL, "data:") {
		return nil, 0, 0, fmt.Errorf("%w: signature is not a base64 data URL", ErrRender)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: decode signature base64: %v", ErrRender, err)
	}

	switch mime {
	case "image/png":
		cfg, err := png.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: decode png: %v", ErrRender, err)
		}
		return raw, float64(cfg.Width), float64(cfg.Height), nil
	case "image/jpeg", "image/jpg":
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: decode jpeg: %v", ErrRender, err)
		}
		return raw, float64(cfg.Width), float64(cfg.Height), nil
	default:
		return nil, 0, 0, fmt.Errorf("%w: unsupported signature encoding %q", ErrRender, mime)
	}
}
